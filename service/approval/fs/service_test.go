package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/model/risk"
	"github.com/wardenflow/warden/service/approval"
)

func newService(t *testing.T, options ...Option) (*Service, string) {
	t.Helper()
	baseDir := t.TempDir()
	service, err := New(baseDir, options...)
	require.NoError(t, err)
	return service, baseDir
}

func TestService_RequestApproval(t *testing.T) {
	service, baseDir := newService(t)
	ctx := context.Background()

	request, err := service.RequestApproval(ctx, &approval.Request{
		TaskID: "t-1",
		Action: "payment",
		Risk:   risk.High,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, approval.DecisionPending, request.Decision)
	assert.Equal(t, request.CreatedAt.Add(approval.DefaultTTL), request.ExpiresAt)

	// The artifact is a file a human can open.
	_, err = os.Stat(filepath.Join(baseDir, "pending", "t-1.yaml"))
	assert.NoError(t, err)

	// Requesting again returns the existing artifact.
	again, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment"})
	require.NoError(t, err)
	assert.Equal(t, request.ID, again.ID)

	pending, err := service.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestService_CheckStatus(t *testing.T) {
	service, _ := newService(t)
	ctx := context.Background()

	_, err := service.CheckStatus(ctx, "missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)

	_, err = service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)

	// Undecided and unexpired: pending, idempotently.
	for i := 0; i < 3; i++ {
		decision, err := service.CheckStatus(ctx, "t-1")
		require.NoError(t, err)
		assert.Equal(t, approval.DecisionPending, decision)
	}
}

func TestService_Decide(t *testing.T) {
	service, baseDir := newService(t)
	ctx := context.Background()

	_, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)

	decided, err := service.Decide(ctx, "t-1", "alice", true, "invoice checked")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionApproved, decided.Decision)
	assert.Equal(t, "alice", decided.DecidedBy)
	require.NotNil(t, decided.DecidedAt)

	// The artifact moved buckets.
	_, err = os.Stat(filepath.Join(baseDir, "approved", "t-1.yaml"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(baseDir, "pending", "t-1.yaml"))
	assert.True(t, os.IsNotExist(err))

	decision, err := service.CheckStatus(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionApproved, decision)

	// Deciding twice reports the prior decision.
	_, err = service.Decide(ctx, "t-1", "bob", false, "changed my mind")
	assert.ErrorIs(t, err, approval.ErrAlreadyDecided)
}

func TestService_CheckStatus_HumanEditedContent(t *testing.T) {
	service, baseDir := newService(t)
	ctx := context.Background()

	_, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)

	// A human opens the pending file and flips the decision field in place.
	artifact := filepath.Join(baseDir, "pending", "t-1.yaml")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	edited := strings.Replace(string(data), "decision: pending", "decision: approved", 1)
	require.NoError(t, os.WriteFile(artifact, []byte(edited), 0o644))

	decision, err := service.CheckStatus(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionApproved, decision)

	// The edit was honoured and the artifact relocated.
	_, err = os.Stat(filepath.Join(baseDir, "approved", "t-1.yaml"))
	assert.NoError(t, err)
}

func TestService_CheckStatus_RelocatedArtifact(t *testing.T) {
	service, baseDir := newService(t)
	ctx := context.Background()

	_, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)

	// A human moves the file into rejected/ without editing it. Location is
	// the decision when the content still says pending.
	source := filepath.Join(baseDir, "pending", "t-1.yaml")
	dest := filepath.Join(baseDir, "rejected", "t-1.yaml")
	require.NoError(t, os.Rename(source, dest))

	decision, err := service.CheckStatus(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionRejected, decision)
}

func TestService_CheckStatus_MalformedArtifact(t *testing.T) {
	service, baseDir := newService(t)
	ctx := context.Background()

	_, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)

	artifact := filepath.Join(baseDir, "pending", "t-1.yaml")
	require.NoError(t, os.WriteFile(artifact, []byte("{{{ not yaml"), 0o644))

	// Malformed reads as pending, never approved.
	decision, err := service.CheckStatus(ctx, "t-1")
	assert.ErrorIs(t, err, approval.ErrMalformedArtifact)
	assert.Equal(t, approval.DecisionPending, decision)
}

func TestService_CheckStatus_MalformedDecidedArtifact(t *testing.T) {
	service, baseDir := newService(t)
	ctx := context.Background()

	_, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)
	_, err = service.Decide(ctx, "t-1", "alice", true, "verified")
	require.NoError(t, err)

	artifact := filepath.Join(baseDir, "approved", "t-1.yaml")
	require.NoError(t, os.WriteFile(artifact, []byte("{{{ not yaml"), 0o644))

	// A corrupted decided artifact reads as pending with the sentinel, not
	// as the decision its bucket implies.
	decision, err := service.CheckStatus(ctx, "t-1")
	assert.ErrorIs(t, err, approval.ErrMalformedArtifact)
	assert.Equal(t, approval.DecisionPending, decision)
}

func TestService_CheckStatus_TimeoutSweep(t *testing.T) {
	service, baseDir := newService(t, WithTTL(time.Hour))
	ctx := context.Background()

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time { return start }
	defer func() { clock.NowFunc = time.Now }()

	request, err := service.RequestApproval(ctx, &approval.Request{TaskID: "t-1", Action: "payment", Risk: risk.High})
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), request.ExpiresAt)

	// Just before the deadline: still pending.
	clock.NowFunc = func() time.Time { return start.Add(time.Hour) }
	decision, err := service.CheckStatus(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionPending, decision)

	// Past the deadline the sweep relocates the artifact and reports timeout.
	clock.NowFunc = func() time.Time { return start.Add(time.Hour + time.Second) }
	decision, err = service.CheckStatus(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionTimeout, decision)

	_, err = os.Stat(filepath.Join(baseDir, "timeout", "t-1.yaml"))
	assert.NoError(t, err)

	// A decision recorded after expiry stays timeout.
	_, err = service.Decide(ctx, "t-1", "alice", true, "too late")
	assert.ErrorIs(t, err, approval.ErrAlreadyDecided)
	decision, err = service.CheckStatus(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, approval.DecisionTimeout, decision)
}
