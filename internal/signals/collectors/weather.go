package collectors

import (
	"context"
	"fmt"

	"vericrop/internal/signals"
	"vericrop/internal/signals/ports"
)

// Weather asks the weather collaborator how well recorded conditions explain
// the claimed damage. It grades no fraud tier.
type Weather struct {
	weather ports.WeatherCorrelator
}

func NewWeather(weather ports.WeatherCorrelator) *Weather {
	return &Weather{weather: weather}
}

func (c *Weather) Name() signals.Name { return signals.WeatherCorrelation }

func (c *Weather) Collect(ctx context.Context, in signals.Input) (signals.Reading, error) {
	at := in.SubmittedAt
	if !in.Evidence.CapturedAt.IsZero() {
		at = in.Evidence.CapturedAt
	}
	score, err := c.weather.Correlation(ctx, ports.WeatherQuery{
		Location:   in.Location,
		At:         at,
		DamageType: in.DamageType,
	})
	if err != nil {
		return signals.Reading{}, err
	}
	if score < 0 || score > 1 {
		return signals.Reading{}, ports.NewCollaboratorError(ports.ErrorBadData, "weather",
			fmt.Sprintf("correlation %v outside [0, 1]", score), nil)
	}
	return signals.Reading{Score: score, Detail: fmt.Sprintf("correlation %.4f", score)}, nil
}
