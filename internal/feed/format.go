package feed

import "github.com/couchcryptid/sota-rbn-matcher/internal/domain"

// Format turns raw lines from one feed into typed spots.
type Format interface {
	Feed() domain.Feed
	// ParseLine returns a domain.ActivationSpot or domain.ReceptionSpot, or
	// an error wrapping domain.ErrMalformedLine.
	ParseLine(line string) (domain.Spot, error)
}

// Activation parses SOTA cluster lines.
var Activation Format = activationFormat{}

// Reception parses RBN skimmer lines.
var Reception Format = receptionFormat{}

type activationFormat struct{}

func (activationFormat) Feed() domain.Feed { return domain.FeedActivation }

func (activationFormat) ParseLine(line string) (domain.Spot, error) {
	spot, err := domain.ParseActivationLine(line)
	if err != nil {
		return nil, err
	}
	return spot, nil
}

type receptionFormat struct{}

func (receptionFormat) Feed() domain.Feed { return domain.FeedReception }

func (receptionFormat) ParseLine(line string) (domain.Spot, error) {
	spot, err := domain.ParseReceptionLine(line)
	if err != nil {
		return nil, err
	}
	return spot, nil
}

// FormatFor returns the Format for a feed name.
func FormatFor(feed domain.Feed) (Format, bool) {
	switch feed {
	case domain.FeedActivation:
		return Activation, true
	case domain.FeedReception:
		return Reception, true
	}
	return nil, false
}
