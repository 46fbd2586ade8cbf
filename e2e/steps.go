package e2e

import (
	"github.com/cucumber/godog"

	"vericrop/e2e/steps/claims"
	"vericrop/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	claims.RegisterSteps(ctx, tc)
}
