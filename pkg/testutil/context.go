package testutil

import (
	"net/http"
	"time"

	"vericrop/pkg/requestcontext"
)

// AsReviewer marks the request as authenticated by reviewerID, the way the
// role middleware does after validating a token.
func AsReviewer(req *http.Request, reviewerID string) *http.Request {
	return req.WithContext(requestcontext.WithReviewerID(req.Context(), reviewerID))
}

// At pins the request-scoped clock.
func At(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
