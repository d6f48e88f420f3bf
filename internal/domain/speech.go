package domain

// Utterance is one discrete unit of synthesized speech output, queued by
// priority until the synthesizer can play it.
type Utterance struct {
	Text     string
	Language string
	Voice    string
	Priority int
	Rate     float64
	Pitch    float64
	Volume   float64
}

// RecognitionResult is the normalized output of one final recognition event.
type RecognitionResult struct {
	Command    string
	Confidence float64
}

// Voice describes one synthesis voice offered by the host capability.
// Local voices are preferred over remote ones during selection.
type Voice struct {
	Name     string
	Language string
	Local    bool
}
