package application

import (
	"context"

	"voicehome/internal/domain"
)

type IntentParser interface {
	Process(ctx context.Context, text string) (*domain.ProcessingResult, error)
}
