package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	SetClientIP(ip string)
}

// RegisterSteps registers claim intake and status step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &claimSteps{tc: tc}

	ctx.Step(`^I submit requests from IP "([^"]*)"$`, steps.fromIP)
	ctx.Step(`^I submit a "([^"]*)" claim for farmer "([^"]*)" at (-?\d+\.\d+), (-?\d+\.\d+)$`, steps.submitClaim)
	ctx.Step(`^I submit a claim with damage type "([^"]*)"$`, steps.submitWithDamageType)
	ctx.Step(`^I save the claim id$`, steps.saveClaimID)
	ctx.Step(`^I request the claim status$`, steps.requestStatus)
	ctx.Step(`^I request the status of claim "([^"]*)"$`, steps.requestStatusOf)
	ctx.Step(`^the claim leaves PENDING within (\d+) seconds$`, steps.claimLeavesPending)
	ctx.Step(`^I keep submitting claims until throttled within (\d+) attempts$`, steps.submitUntilThrottled)
}

type claimSteps struct {
	tc      TestContext
	claimID string
}

func submission(farmer, damageType string, lat, lon float64) map[string]interface{} {
	return map[string]interface{}{
		"farmer_id":     farmer,
		"damage_type":   damageType,
		"location":      map[string]float64{"latitude": lat, "longitude": lon},
		"evidence_ref":  "s3://evidence/e2e/" + farmer + ".jpg",
		"damage_amount": 12500.0,
	}
}

func (s *claimSteps) fromIP(ctx context.Context, ip string) error {
	s.tc.SetClientIP(ip)
	return nil
}

func (s *claimSteps) submitClaim(ctx context.Context, damageType, farmer string, lat, lon float64) error {
	return s.tc.POST("/claims", submission(farmer, damageType, lat, lon))
}

func (s *claimSteps) submitWithDamageType(ctx context.Context, damageType string) error {
	return s.tc.POST("/claims", submission("farmer-e2e", damageType, 18.52, 73.85))
}

func (s *claimSteps) saveClaimID(ctx context.Context) error {
	id, err := s.tc.GetResponseField("claim_id")
	if err != nil {
		return err
	}
	str, ok := id.(string)
	if !ok || str == "" {
		return fmt.Errorf("claim_id missing from response")
	}
	s.claimID = str
	return nil
}

func (s *claimSteps) requestStatus(ctx context.Context) error {
	if s.claimID == "" {
		return fmt.Errorf("no claim id saved")
	}
	return s.tc.GET("/claims/"+s.claimID, nil)
}

func (s *claimSteps) requestStatusOf(ctx context.Context, id string) error {
	return s.tc.GET("/claims/"+id, nil)
}

func (s *claimSteps) claimLeavesPending(ctx context.Context, seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	for {
		if err := s.requestStatus(ctx); err != nil {
			return err
		}
		state, err := s.tc.GetResponseField("claim.state")
		if err != nil {
			return err
		}
		if state != "PENDING" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("claim %s still PENDING after %ds", s.claimID, seconds)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (s *claimSteps) submitUntilThrottled(ctx context.Context, attempts int) error {
	for i := 0; i < attempts; i++ {
		if err := s.submitWithDamageType(ctx, "hail"); err != nil {
			return err
		}
		if s.tc.GetLastResponseStatus() == 429 {
			return nil
		}
	}
	return fmt.Errorf("not throttled after %d submissions", attempts)
}
