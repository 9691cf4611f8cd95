package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/mock/gomock"

	"geoverify/internal/geo"
	"geoverify/internal/verification/models"
	"geoverify/internal/verification/service/mocks"
	"geoverify/internal/verification/store"
	id "geoverify/pkg/domain"
	dErrors "geoverify/pkg/domain-errors"
	"geoverify/pkg/platform/sentinel"
)

var (
	admin  = id.Principal{Kind: id.PrincipalAdmin, ID: "ops@example.com"}
	acme   = id.Principal{Kind: id.PrincipalAPIKey, ID: "key_acme"}
	globex = id.Principal{Kind: id.PrincipalAPIKey, ID: "key_globex"}

	lowerManhattan = geo.Coordinate{Latitude: 40.7128, Longitude: -74.0060}
)

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	geocoder  *mocks.MockGeocoder
	publisher *mocks.MockResultPublisher
	store     *store.InMemory
	service   *Service
	now       time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.geocoder = mocks.NewMockGeocoder(s.ctrl)
	s.publisher = mocks.NewMockResultPublisher(s.ctrl)
	s.store = store.NewInMemory()
	s.now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	s.service = New(s.store, Config{PublicBaseURL: "https://verify.example.com/"},
		WithGeocoder(s.geocoder),
		WithPublisher(s.publisher),
		WithClock(func() time.Time { return s.now }),
		WithTracer(noop.NewTracerProvider().Tracer("verification-test")),
	)
}

func validRecipient() models.Recipient {
	return models.Recipient{
		FullName: "Ada Lovelace",
		Email:    "Ada@Example.com ",
		Address:  "1 Centre Street",
		City:     "New York",
		State:    "NY",
		ZipCode:  "10007",
	}
}

// issue creates a token geocoded to coord (nil means geocoding fails).
func (s *ServiceSuite) issue(issuer id.Principal, coord *geo.Coordinate) id.TokenID {
	if coord != nil {
		s.geocoder.EXPECT().Geocode(gomock.Any(), gomock.Any()).Return(*coord, nil)
	} else {
		s.geocoder.EXPECT().Geocode(gomock.Any(), gomock.Any()).Return(geo.Coordinate{}, errors.New("geocoder down"))
	}
	res, err := s.service.Issue(context.Background(), models.IssueRequest{Recipient: validRecipient()}, issuer)
	s.Require().NoError(err)
	return res.TokenID
}

// toProcessing opens the link and consents.
func (s *ServiceSuite) toProcessing(tokenID id.TokenID) {
	ctx := context.Background()
	_, err := s.service.Validate(ctx, tokenID)
	s.Require().NoError(err)
	result, err := s.service.RecordConsent(ctx, tokenID, true)
	s.Require().NoError(err)
	s.Require().Nil(result)
}

func submission(lat, lon, accuracy float64) models.Submission {
	return models.Submission{
		Consent:  true,
		Location: models.Location{Latitude: lat, Longitude: lon, AccuracyMeters: accuracy},
	}
}

func (s *ServiceSuite) storedStatus(tokenID id.TokenID) models.Status {
	token, err := s.store.FindByID(context.Background(), tokenID)
	s.Require().NoError(err)
	return token.Status
}

func (s *ServiceSuite) TestIssue() {
	ctx := context.Background()

	s.Run("stores a geocoded token and builds the link", func() {
		s.geocoder.EXPECT().Geocode(gomock.Any(), "1 Centre Street, New York, NY 10007").Return(lowerManhattan, nil)

		res, err := s.service.Issue(ctx, models.IssueRequest{Recipient: validRecipient()}, acme)
		s.Require().NoError(err)
		s.True(res.Geocoded)
		s.Equal("ada@example.com", res.Recipient.Email)
		s.Equal(24*time.Hour, res.ExpiresIn)
		s.Equal(s.now.Add(24*time.Hour), res.ExpiresAt)
		s.Equal("https://verify.example.com/verify?token="+res.TokenID.String(), res.VerificationURL)

		token, err := s.store.FindByID(ctx, res.TokenID)
		s.Require().NoError(err)
		s.Equal(models.StatusIssued, token.Status)
		s.Equal(acme, token.IssuedBy)
		s.Require().NotNil(token.ClaimedCoordinate)
		s.Equal(lowerManhattan, *token.ClaimedCoordinate)
	})

	s.Run("geocoding failure does not block issuance", func() {
		tokenID := s.issue(acme, nil)
		token, err := s.store.FindByID(ctx, tokenID)
		s.Require().NoError(err)
		s.Nil(token.ClaimedCoordinate)
	})

	s.Run("ttl is clamped to the configured maximum", func() {
		s.geocoder.EXPECT().Geocode(gomock.Any(), gomock.Any()).Return(lowerManhattan, nil)
		res, err := s.service.Issue(ctx, models.IssueRequest{Recipient: validRecipient(), TTL: 90 * 24 * time.Hour}, admin)
		s.Require().NoError(err)
		s.Equal(30*24*time.Hour, res.ExpiresIn)
	})

	s.Run("invalid recipient is rejected before geocoding", func() {
		r := validRecipient()
		r.Email = "not-an-email"
		_, err := s.service.Issue(ctx, models.IssueRequest{Recipient: r}, acme)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("negative ttl is rejected", func() {
		_, err := s.service.Issue(ctx, models.IssueRequest{Recipient: validRecipient(), TTL: -time.Hour}, acme)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("anonymous issuer is rejected", func() {
		_, err := s.service.Issue(ctx, models.IssueRequest{Recipient: validRecipient()}, id.Principal{})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

// TestIssueRegeneratesOnCollision verifies duplicate ids are retried and
// never surfaced.
func (s *ServiceSuite) TestIssueRegeneratesOnCollision() {
	ctx := context.Background()
	tokens := mocks.NewMockTokenStore(s.ctrl)
	svc := New(tokens, Config{}, WithClock(func() time.Time { return s.now }))

	s.Run("succeeds after collisions", func() {
		gomock.InOrder(
			tokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
			tokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict),
			tokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil),
		)
		res, err := svc.Issue(ctx, models.IssueRequest{Recipient: validRecipient()}, admin)
		s.Require().NoError(err)
		s.NotEmpty(res.TokenID)
		s.False(res.Geocoded)
	})

	s.Run("gives up after repeated collisions", func() {
		tokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict).Times(maxIssueAttempts)
		_, err := svc.Issue(ctx, models.IssueRequest{Recipient: validRecipient()}, admin)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

// TestEndToEnd issues, validates, consents and submits a nearby fix.
func (s *ServiceSuite) TestEndToEnd() {
	ctx := context.Background()
	tokenID := s.issue(acme, &lowerManhattan)

	validated, err := s.service.Validate(ctx, tokenID)
	s.Require().NoError(err)
	s.Equal("Ada Lovelace", validated.Recipient.FullName)
	s.Equal(24*time.Hour, validated.ExpiresIn)

	s.Require().Nil(s.mustConsent(tokenID, true))

	var event models.ResultEvent
	s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e models.ResultEvent) error {
			event = e
			return nil
		})

	result, err := s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
	s.Require().NoError(err)
	s.Equal(models.ResultLocationVerified, result.Status)
	s.Require().NotNil(result.DistanceMeters)
	s.InDelta(27.9, *result.DistanceMeters, 1.5)
	s.Less(result.RiskScore, 0.1)
	s.False(result.RequiresManualReview)
	s.Equal(tokenID.VerificationID(), result.VerificationID)

	s.Equal(models.StatusVerified, s.storedStatus(tokenID))
	s.Equal(acme, event.IssuedBy)
	s.Equal(models.StatusVerified, event.TokenStatus)

	_, err = s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyFinalized))

	_, err = s.service.Validate(ctx, tokenID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken), "replayed link is invalid")
}

func (s *ServiceSuite) mustConsent(tokenID id.TokenID, consented bool) *models.Result {
	result, err := s.service.RecordConsent(context.Background(), tokenID, consented)
	s.Require().NoError(err)
	return result
}

func (s *ServiceSuite) TestSubmitScoring() {
	ctx := context.Background()

	s.Run("far away fix is not verified", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.toProcessing(tokenID)
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Submit(ctx, tokenID, submission(41.8781, -87.6298, 30))
		s.Require().NoError(err)
		s.Equal(models.ResultLocationNotVerified, result.Status)
		s.Equal(1.0, result.RiskScore)
		s.True(result.RequiresManualReview)
		s.Equal(models.StatusNotVerified, s.storedStatus(tokenID))
	})

	s.Run("missing claimed coordinate scores 0.5", func() {
		tokenID := s.issue(acme, nil)
		s.toProcessing(tokenID)
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
		s.Require().NoError(err)
		s.Nil(result.DistanceMeters)
		s.Equal(0.5, result.RiskScore)
		s.Equal(models.ResultLocationNotVerified, result.Status)
	})

	s.Run("invalid coordinate leaves the token untouched", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.toProcessing(tokenID)

		_, err := s.service.Submit(ctx, tokenID, submission(91, 0, 10))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCoordinate))
		_, err = s.service.Submit(ctx, tokenID, submission(0, 0, -5))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidCoordinate))
		s.Equal(models.StatusProcessing, s.storedStatus(tokenID))
	})

	s.Run("submission without consent declines", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.toProcessing(tokenID)
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Submit(ctx, tokenID, models.Submission{Consent: false})
		s.Require().NoError(err)
		s.Equal(models.ResultDeclined, result.Status)
		s.Equal(models.StatusDeclined, s.storedStatus(tokenID))
	})

	s.Run("publisher failure does not change the outcome", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.toProcessing(tokenID)
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(errors.New("broker down"))

		result, err := s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
		s.Require().NoError(err)
		s.Equal(models.ResultLocationVerified, result.Status)
	})
}

func (s *ServiceSuite) TestDecline() {
	ctx := context.Background()

	s.Run("refused consent produces a declined result once", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		_, err := s.service.Validate(ctx, tokenID)
		s.Require().NoError(err)
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil).Times(1)

		result := s.mustConsent(tokenID, false)
		s.Require().NotNil(result)
		s.Equal(models.ResultDeclined, result.Status)
		s.Nil(result.DistanceMeters)
		s.Equal(1.0, result.RiskScore)

		_, err = s.service.RecordConsent(ctx, tokenID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyFinalized))
		_, err = s.service.Decline(ctx, tokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyFinalized))
	})

	s.Run("decline notification works before the link is validated", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Decline(ctx, tokenID)
		s.Require().NoError(err)
		s.Equal(models.ResultDeclined, result.Status)
		s.Equal(models.StatusDeclined, s.storedStatus(tokenID))
	})
}

func (s *ServiceSuite) TestStateErrors() {
	ctx := context.Background()

	s.Run("unknown token is invalid", func() {
		_, err := s.service.Validate(ctx, id.TokenID("does-not-exist"))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("submit before consent is an invalid state", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		_, err := s.service.Validate(ctx, tokenID)
		s.Require().NoError(err)

		_, err = s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(models.StatusValidated, s.storedStatus(tokenID))
	})

	s.Run("consent before validation is an invalid state", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		_, err := s.service.RecordConsent(ctx, tokenID, true)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("validation is idempotent while open", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		for i := 0; i < 3; i++ {
			res, err := s.service.Validate(ctx, tokenID)
			s.Require().NoError(err)
			s.Equal(models.StatusValidated, res.Status)
		}
		s.Require().Nil(s.mustConsent(tokenID, true))

		res, err := s.service.Validate(ctx, tokenID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, res.Status)
	})
}

func (s *ServiceSuite) TestExpiry() {
	ctx := context.Background()

	s.Run("usable exactly at expiry", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.now = s.now.Add(24 * time.Hour)
		defer func() { s.now = s.now.Add(-24 * time.Hour) }()

		_, err := s.service.Validate(ctx, tokenID)
		s.NoError(err)
	})

	s.Run("one second past expiry is always expired", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.now = s.now.Add(24*time.Hour + time.Second)
		defer func() { s.now = s.now.Add(-(24*time.Hour + time.Second)) }()

		_, err := s.service.Validate(ctx, tokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeExpired))
		s.Equal(models.StatusExpired, s.storedStatus(tokenID))

		_, err = s.service.Validate(ctx, tokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeExpired), "second look is still expired, not invalid")
	})

	s.Run("expiry wins over an in-flight submission", func() {
		tokenID := s.issue(acme, &lowerManhattan)
		s.toProcessing(tokenID)
		s.now = s.now.Add(48 * time.Hour)
		defer func() { s.now = s.now.Add(-48 * time.Hour) }()

		_, err := s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
		s.True(dErrors.HasCode(err, dErrors.CodeExpired))
		s.Equal(models.StatusExpired, s.storedStatus(tokenID))
	})
}

// TestConcurrentSubmit verifies exactly one of N racing submissions commits.
func (s *ServiceSuite) TestConcurrentSubmit() {
	ctx := context.Background()
	tokenID := s.issue(acme, &lowerManhattan)
	s.toProcessing(tokenID)
	s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	const goroutines = 50
	var wg sync.WaitGroup
	var successes, finalized, other atomic.Int32
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := s.service.Submit(ctx, tokenID, submission(40.7130, -74.0062, 20))
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyFinalized):
				finalized.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), finalized.Load())
	s.Equal(int32(0), other.Load())

	token, err := s.store.FindByID(ctx, tokenID)
	s.Require().NoError(err)
	s.Equal(models.StatusVerified, token.Status)
	s.Equal(int64(4), token.Version, "issued, validated, processing, verified")
}

// TestConcurrentDecline verifies duplicate declines change state once.
func (s *ServiceSuite) TestConcurrentDecline() {
	ctx := context.Background()
	tokenID := s.issue(acme, &lowerManhattan)
	_, err := s.service.Validate(ctx, tokenID)
	s.Require().NoError(err)
	s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	const goroutines = 30
	var wg sync.WaitGroup
	var successes, finalized atomic.Int32
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = s.service.RecordConsent(ctx, tokenID, false)
			} else {
				_, err = s.service.Decline(ctx, tokenID)
			}
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyFinalized):
				finalized.Add(1)
			}
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(int32(goroutines-1), finalized.Load())
}

func (s *ServiceSuite) TestIssuerViews() {
	ctx := context.Background()
	acmeToken := s.issue(acme, &lowerManhattan)
	globexToken := s.issue(globex, &lowerManhattan)

	s.Run("issuer reads its own result", func() {
		token, err := s.service.GetResult(ctx, acmeToken, acme)
		s.Require().NoError(err)
		s.Equal(acmeToken, token.ID)
	})

	s.Run("other issuers cannot see it", func() {
		_, err := s.service.GetResult(ctx, acmeToken, globex)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.service.GetResult(ctx, id.TokenID("missing"), globex)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("admins see everything", func() {
		list, err := s.service.ListTokens(ctx, admin, "", 0)
		s.Require().NoError(err)
		s.Len(list, 2)

		stats, err := s.service.Stats(ctx, admin)
		s.Require().NoError(err)
		s.Equal(2, stats.Total)
		s.Equal(2, stats.ByStatus[models.StatusIssued])
	})

	s.Run("listing is scoped to the issuer", func() {
		list, err := s.service.ListTokens(ctx, globex, "", 10)
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(globexToken, list[0].ID)
	})

	s.Run("unknown status filter is rejected", func() {
		_, err := s.service.ListTokens(ctx, admin, models.Status("bogus"), 10)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("lookup past expiry marks the token expired", func() {
		s.now = s.now.Add(25 * time.Hour)
		defer func() { s.now = s.now.Add(-25 * time.Hour) }()

		token, err := s.service.GetResult(ctx, globexToken, globex)
		s.Require().NoError(err)
		s.Equal(models.StatusExpired, token.Status)
	})
}

func (s *ServiceSuite) TestStatsRecent() {
	ctx := context.Background()
	var acmeTokens []id.TokenID
	for range 6 {
		acmeTokens = append(acmeTokens, s.issue(acme, &lowerManhattan))
		s.now = s.now.Add(time.Minute)
	}
	globexToken := s.issue(globex, &lowerManhattan)

	s.Run("newest five for the issuer, newest first", func() {
		stats, err := s.service.Stats(ctx, acme)
		s.Require().NoError(err)
		s.Equal(6, stats.Total)
		s.Require().Len(stats.Recent, 5)
		for i, token := range stats.Recent {
			s.Equal(acmeTokens[5-i], token.ID)
		}
	})

	s.Run("scoped like listing", func() {
		stats, err := s.service.Stats(ctx, globex)
		s.Require().NoError(err)
		s.Require().Len(stats.Recent, 1)
		s.Equal(globexToken, stats.Recent[0].ID)

		stats, err = s.service.Stats(ctx, admin)
		s.Require().NoError(err)
		s.Equal(globexToken, stats.Recent[0].ID)
	})
}

func (s *ServiceSuite) TestRevoke() {
	ctx := context.Background()
	tokenID := s.issue(acme, &lowerManhattan)

	s.Run("other issuer cannot revoke", func() {
		_, err := s.service.Revoke(ctx, tokenID, globex)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(models.StatusIssued, s.storedStatus(tokenID))
	})

	s.Run("owner revokes and the link stops working", func() {
		s.publisher.EXPECT().PublishResult(gomock.Any(), gomock.Any()).Return(nil)
		token, err := s.service.Revoke(ctx, tokenID, acme)
		s.Require().NoError(err)
		s.Equal(models.StatusInvalid, token.Status)

		_, err = s.service.Validate(ctx, tokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("revoking twice reports already final", func() {
		_, err := s.service.Revoke(ctx, tokenID, admin)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyFinalized))
	})
}

func (s *ServiceSuite) TestSweeper() {
	ctx := context.Background()
	old := s.issue(acme, &lowerManhattan)
	token, err := s.store.FindByID(ctx, old)
	s.Require().NoError(err)

	sweeper := NewSweeper(s.store, time.Minute, 7*24*time.Hour, nil, nil)
	sweeper.clock = func() time.Time { return token.ExpiresAt.Add(8 * 24 * time.Hour) }

	n, err := sweeper.SweepOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = s.service.Validate(ctx, old)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
}
