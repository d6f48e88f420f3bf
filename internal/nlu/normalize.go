package nlu

import (
	"strconv"
	"strings"

	"voicehome/internal/domain"
)

// numberWords is the fixed lookup for spelled-out numbers. Anything not in
// the table (and not a digit string) normalizes to 0.
var numberWords = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "fifteen": 15,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	"hundred": 100,
}

func normalizeEntityValue(entityType, raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))

	switch entityType {
	case domain.EntityNumber:
		return strconv.Itoa(normalizeNumber(value))
	case domain.EntityDevice, domain.EntityRoom:
		return strings.ReplaceAll(value, " ", "_")
	default:
		return value
	}
}

func normalizeNumber(value string) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return numberWords[value]
}
