package authn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/apperr"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/audit"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/clients"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/demographic"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/psut"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeOTP struct {
	verifyResult bool
	verifyErr    error
	verifyCalls  int
	requestCalls int
	lastContact  string
}

func (f *fakeOTP) Request(_ context.Context, userID string, otpType storage.OTPType, contact string) (*storage.OTPRequest, error) {
	f.requestCalls++
	f.lastContact = contact
	return &storage.OTPRequest{UserID: userID, Type: otpType, Contact: contact}, nil
}

func (f *fakeOTP) Verify(context.Context, string, string, storage.OTPType) (bool, error) {
	f.verifyCalls++
	return f.verifyResult, f.verifyErr
}

func (f *fakeOTP) Cleanup(context.Context) (int64, error) { return 2, nil }

type fakeTokens struct {
	issueCalls int
	issueErr   error
}

func (f *fakeTokens) IssueOrReuse(_ context.Context, userID, partnerID string, _ int) (*storage.PartnerToken, error) {
	f.issueCalls++
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	return &storage.PartnerToken{Token: "psut_x", UserID: userID, PartnerID: partnerID, Status: storage.TokenStatusActive}, nil
}

func (f *fakeTokens) Validate(context.Context, string, string) (psut.Validation, error) {
	return psut.Validation{Reason: psut.ReasonNotFound}, nil
}

func (f *fakeTokens) Revoke(context.Context, string, string, string) error {
	return apperr.NotFound("no active token for partner", storage.ErrNotFound)
}

func (f *fakeTokens) SweepExpired(context.Context) (int64, error) { return 1, nil }

type lockKey struct {
	userID   string
	authType storage.AuthType
	modality storage.Modality
}

type fakeLocks struct {
	mu    sync.Mutex
	locks map[lockKey]bool
	err   error
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{locks: make(map[lockKey]bool)}
}

func (f *fakeLocks) GetLock(_ context.Context, userID string, authType storage.AuthType, modality storage.Modality) (*storage.AuthLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	locked, ok := f.locks[lockKey{userID, authType, modality}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.AuthLock{UserID: userID, AuthType: authType, Modality: modality, IsLocked: locked}, nil
}

func (f *fakeLocks) SetLock(_ context.Context, userID string, authType storage.AuthType, modality storage.Modality, locked bool, now time.Time) (*storage.AuthLock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks[lockKey{userID, authType, modality}] = locked
	return &storage.AuthLock{UserID: userID, AuthType: authType, Modality: modality, IsLocked: locked, LockedAt: &now}, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeAudit) Record(_ context.Context, e audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *fakeAudit) History(context.Context, string, int) ([]storage.AuthLog, error) {
	return nil, nil
}

func (f *fakeAudit) last(t *testing.T) audit.Entry {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		t.Fatalf("expected an audit entry")
	}
	return f.entries[len(f.entries)-1]
}

type fakeDemographics struct {
	records map[string]storage.DemographicRecord
}

func (f *fakeDemographics) GetDemographic(_ context.Context, userID string) (*storage.DemographicRecord, error) {
	r, ok := f.records[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &r, nil
}

type fakeBiometric struct {
	result clients.BiometricResult
	block  bool
	calls  int
}

func (f *fakeBiometric) Verify(ctx context.Context, _, _, _ string) (clients.BiometricResult, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return clients.BiometricResult{}, ctx.Err()
	}
	return f.result, nil
}

type fakeEKYC struct {
	calls int
}

func (f *fakeEKYC) BuildResponse(context.Context, string, string, string) (clients.EKYCResponse, error) {
	f.calls++
	return clients.EKYCResponse{EncryptedPayload: "ciphertext"}, nil
}

type fakePartners struct {
	partners map[string]storage.Partner
}

func (f *fakePartners) GetPartner(_ context.Context, id string) (*storage.Partner, error) {
	p, ok := f.partners[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

type fixture struct {
	otp       *fakeOTP
	tokens    *fakeTokens
	locks     *fakeLocks
	audit     *fakeAudit
	biometric *fakeBiometric
	ekyc      *fakeEKYC
	auth      *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		otp:       &fakeOTP{},
		tokens:    &fakeTokens{},
		locks:     newFakeLocks(),
		audit:     &fakeAudit{},
		biometric: &fakeBiometric{},
		ekyc:      &fakeEKYC{},
	}
	f.auth = New(Deps{
		OTP:    f.otp,
		Tokens: f.tokens,
		Locks:  f.locks,
		Audit:  f.audit,
		Demographics: &fakeDemographics{records: map[string]storage.DemographicRecord{
			"u1": {UserID: "u1", FirstName: "Amina", LastName: "Mwangi", DateOfBirth: "1990-04-12", Phone: "+255 700 000 001", Email: "Amina@Example.com"},
			"u2": {UserID: "u2", FirstName: "Juma", LastName: "Said", DateOfBirth: "1985-01-30", Phone: "+255700000002"},
		}},
		Biometric: f.biometric,
		EKYC:      f.ekyc,
		Partners: &fakePartners{partners: map[string]storage.Partner{
			"bank":    {ID: "bank", Status: storage.PartnerStatusActive},
			"dormant": {ID: "dormant", Status: storage.PartnerStatusSuspended},
		}},
	}, time.Second, nil, nil)
	return f
}

func TestAuthenticateOTPSuccessIsLogged(t *testing.T) {
	f := newFixture(t)
	f.otp.verifyResult = true

	res, err := f.auth.AuthenticateOTP(context.Background(), "u1", "123456", storage.OTPTypeSMS)
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v %v", res, err)
	}
	if e := f.audit.last(t); !e.Success || e.AuthType != storage.AuthTypeOTP {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestAuthenticateOTPWrongCodeIsResultNotError(t *testing.T) {
	f := newFixture(t)

	res, err := f.auth.AuthenticateOTP(context.Background(), "u1", "000000", storage.OTPTypeSMS)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Success || res.Reason != ReasonInvalidOTP {
		t.Fatalf("unexpected result %+v", res)
	}
	if e := f.audit.last(t); e.Success || e.FailureReason != ReasonInvalidOTP {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestLockedOTPSkipsVerifyAndAudit(t *testing.T) {
	f := newFixture(t)
	f.locks.locks[lockKey{"u1", storage.AuthTypeOTP, storage.ModalityNone}] = true

	res, err := f.auth.AuthenticateOTP(context.Background(), "u1", "123456", storage.OTPTypeSMS)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Success || res.Reason != "OTP authentication is locked" {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.otp.verifyCalls != 0 {
		t.Fatalf("expected verify not to run while locked")
	}
	if len(f.audit.entries) != 0 {
		t.Fatalf("expected lock rejection not to be audited")
	}

	res, err = f.auth.RequestOTP(context.Background(), "u1", storage.OTPTypeSMS, "+255700000001")
	if err != nil || res.Success {
		t.Fatalf("expected locked request, got %+v %v", res, err)
	}
	if f.otp.requestCalls != 0 {
		t.Fatalf("expected no otp dispatch while locked")
	}
}

func TestUnlockRestoresOTP(t *testing.T) {
	f := newFixture(t)
	f.otp.verifyResult = true
	ctx := context.Background()

	if _, err := f.auth.SetLock(ctx, "u1", storage.AuthTypeOTP, storage.ModalityNone, true); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if res, _ := f.auth.AuthenticateOTP(ctx, "u1", "123456", storage.OTPTypeSMS); res.Success {
		t.Fatalf("expected locked result")
	}
	if _, err := f.auth.SetLock(ctx, "u1", storage.AuthTypeOTP, storage.ModalityNone, false); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if res, _ := f.auth.AuthenticateOTP(ctx, "u1", "123456", storage.OTPTypeSMS); !res.Success {
		t.Fatalf("expected success after unlock, got %+v", res)
	}
}

func TestBiometricLockIsPerModality(t *testing.T) {
	f := newFixture(t)
	f.biometric.result = clients.BiometricResult{Success: true}
	f.locks.locks[lockKey{"u1", storage.AuthTypeBiometric, storage.ModalityFingerprint}] = true

	res, err := f.auth.AuthenticateBiometric(context.Background(), "u1", "sample", storage.ModalityFingerprint)
	if err != nil || res.Success || res.Reason != "Biometric fingerprint authentication is locked" {
		t.Fatalf("unexpected locked result %+v %v", res, err)
	}
	if f.biometric.calls != 0 {
		t.Fatalf("expected verifier not to be called while locked")
	}

	res, err = f.auth.AuthenticateBiometric(context.Background(), "u1", "sample", storage.ModalityIris)
	if err != nil || !res.Success {
		t.Fatalf("expected iris to authenticate, got %+v %v", res, err)
	}
	if f.biometric.calls != 1 {
		t.Fatalf("expected one verifier call, got %d", f.biometric.calls)
	}
}

func TestBiometricTimeoutIsInfrastructure(t *testing.T) {
	f := newFixture(t)
	f.biometric.block = true
	f.auth.callTimeout = 20 * time.Millisecond

	_, err := f.auth.AuthenticateBiometric(context.Background(), "u1", "sample", storage.ModalityFace)
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	e := f.audit.last(t)
	if e.Success || !strings.HasPrefix(e.FailureReason, "error:") || !strings.Contains(e.FailureReason, "timeout") {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestDemographicBoundaryFails(t *testing.T) {
	f := newFixture(t)

	res, err := f.auth.AuthenticateDemographic(context.Background(), "u1", demographic.Record{
		FirstName: "Amina", LastName: "Mwangi", DateOfBirth: "1990-04-12",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected a 70 score to fail")
	}
	if res.Score == nil || *res.Score != 70 {
		t.Fatalf("expected score 70, got %v", res.Score)
	}
	want := "Demographic match score 70.00 below threshold"
	if res.Reason != want || f.audit.last(t).FailureReason != want {
		t.Fatalf("expected reason %q, got %q", want, res.Reason)
	}
}

func TestDemographicMissingRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.AuthenticateDemographic(context.Background(), "ghost", demographic.Record{FirstName: "X"})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if e := f.audit.last(t); e.Success || e.FailureReason != ReasonDemographicNotFound {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestEKYCReturnsPayloadAndToken(t *testing.T) {
	f := newFixture(t)

	res, err := f.auth.AuthenticateEKYC(context.Background(), "u1", "bank", "policy-1")
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v %v", res, err)
	}
	if res.EncryptedPayload != "ciphertext" || res.Token == nil || res.Token.PartnerID != "bank" {
		t.Fatalf("unexpected result %+v", res)
	}
	if e := f.audit.last(t); !e.Success || e.PartnerID != "bank" {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestEKYCRejectsInactivePartner(t *testing.T) {
	f := newFixture(t)

	for _, partnerID := range []string{"dormant", "unknown"} {
		_, err := f.auth.AuthenticateEKYC(context.Background(), "u1", partnerID, "policy-1")
		if !errors.Is(err, apperr.ErrInvalidPartner) || apperr.KindOf(err) != apperr.KindPolicy {
			t.Fatalf("%s: expected invalid partner policy error, got %v", partnerID, err)
		}
	}
	if f.ekyc.calls != 0 || f.tokens.issueCalls != 0 {
		t.Fatalf("expected no payload or token for invalid partners")
	}
}

func TestEKYCTokenFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.tokens.issueErr = apperr.Infra("insert token", errors.New("db down"))

	_, err := f.auth.AuthenticateEKYC(context.Background(), "u1", "bank", "policy-1")
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if e := f.audit.last(t); e.Success || !strings.HasPrefix(e.FailureReason, "error:") {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

type failingAuditStore struct{}

func (failingAuditStore) InsertAuthLog(context.Context, storage.AuthLog) (*storage.AuthLog, error) {
	return nil, errors.New("audit table unavailable")
}

func (failingAuditStore) ListAuthLogs(context.Context, string, int) ([]storage.AuthLog, error) {
	return nil, errors.New("audit table unavailable")
}

func TestAuditFailureDoesNotFailAuthentication(t *testing.T) {
	f := newFixture(t)
	f.otp.verifyResult = true
	f.auth.deps.Audit = audit.NewRecorder(failingAuditStore{}, nil, "", nil, nil)

	res, err := f.auth.AuthenticateOTP(context.Background(), "u1", "123456", storage.OTPTypeEmail)
	if err != nil || !res.Success {
		t.Fatalf("expected success despite audit failure, got %+v %v", res, err)
	}
}

func TestLockStoreFailureIsInfrastructure(t *testing.T) {
	f := newFixture(t)
	f.locks.err = errors.New("db down")

	_, err := f.auth.AuthenticateOTP(context.Background(), "u1", "123456", storage.OTPTypeSMS)
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if f.otp.verifyCalls != 0 {
		t.Fatalf("expected verify not to run without a lock decision")
	}
}

func TestSetLockScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.auth.SetLock(ctx, "u1", storage.AuthTypeBiometric, storage.ModalityNone, true); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for biometric lock without modality, got %v", err)
	}
	if _, err := f.auth.SetLock(ctx, "u1", storage.AuthTypeOTP, storage.ModalityIris, true); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for modality on otp lock, got %v", err)
	}
	if _, err := f.auth.SetLock(ctx, "u1", storage.AuthType("password"), storage.ModalityNone, true); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for unknown auth type, got %v", err)
	}
}

func TestValidationErrorsAreNotAudited(t *testing.T) {
	f := newFixture(t)

	if _, err := f.auth.AuthenticateOTP(context.Background(), "u1", "1", storage.OTPType("fax")); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.auth.AuthenticateBiometric(context.Background(), "u1", "s", storage.Modality("voice")); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.audit.entries) != 0 {
		t.Fatalf("expected no audit rows for rejected input")
	}
}

func TestPassThroughs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.auth.RevokeToken(ctx, "u1", "bank", "user request"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found from revoke, got %v", err)
	}
	if v, err := f.auth.ValidateToken(ctx, "psut_missing", "bank"); err != nil || v.Valid || v.Reason != psut.ReasonNotFound {
		t.Fatalf("unexpected validation %+v %v", v, err)
	}
	if n, err := f.auth.CleanupOTPs(ctx); err != nil || n != 2 {
		t.Fatalf("unexpected cleanup %d %v", n, err)
	}
	if n, err := f.auth.SweepTokens(ctx); err != nil || n != 1 {
		t.Fatalf("unexpected sweep %d %v", n, err)
	}
}

func TestRequestOTPSendsToRegisteredDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.auth.RequestOTP(ctx, "u1", storage.OTPTypeSMS, "")
	if err != nil || !res.Success {
		t.Fatalf("expected request accepted, got %+v %v", res, err)
	}
	if f.otp.lastContact != "+255 700 000 001" {
		t.Fatalf("expected on-file phone, got %q", f.otp.lastContact)
	}

	if _, err := f.auth.RequestOTP(ctx, "u1", storage.OTPTypeSMS, "+255-700-000-001"); err != nil {
		t.Fatalf("expected formatted match to be accepted, got %v", err)
	}
	if _, err := f.auth.RequestOTP(ctx, "u1", storage.OTPTypeEmail, "amina@example.com"); err != nil {
		t.Fatalf("expected case-insensitive email match, got %v", err)
	}
	if f.otp.lastContact != "Amina@Example.com" {
		t.Fatalf("expected on-file email, got %q", f.otp.lastContact)
	}
}

func TestRequestOTPNeverDispatchesToForeignContact(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.RequestOTP(context.Background(), "u1", storage.OTPTypeSMS, "+1-555-0100")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.otp.requestCalls != 0 {
		t.Fatalf("expected no otp issued for a foreign contact")
	}
	if len(f.audit.entries) != 0 {
		t.Fatalf("expected rejected request not to be audited")
	}
}

func TestRequestOTPWithoutRegisteredDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.auth.RequestOTP(ctx, "u2", storage.OTPTypeEmail, ""); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for missing email, got %v", err)
	}
	if _, err := f.auth.RequestOTP(ctx, "ghost", storage.OTPTypeSMS, ""); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
	if f.otp.requestCalls != 0 {
		t.Fatalf("expected no otp issued, got %d", f.otp.requestCalls)
	}
}

func TestOperationsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t)
	f.otp.verifyResult = true
	if _, err := f.auth.AuthenticateOTP(context.Background(), "u1", "123456", storage.OTPTypeSMS); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Name() != "authn.AuthenticateOTP" {
		t.Fatalf("expected one authn.AuthenticateOTP span, got %d", len(ended))
	}
}
