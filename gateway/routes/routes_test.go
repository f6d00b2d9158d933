package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rozgar/core/coordinator"
	"rozgar/core/events"
	"rozgar/gateway/middleware"
	"rozgar/ledger/memledger"
	"rozgar/native/gig"
	"rozgar/roster"
	"rozgar/storage/journal"
)

var (
	client     = gig.MustParseAddress("0xF67bF71D9Bb8c7B48994DE38b3FfBc7eEdAB2Bb8")
	freelancer = gig.MustParseAddress("0x00000000000000000000000000000000000000f1")
	stranger   = gig.MustParseAddress("0x00000000000000000000000000000000000000e5")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type fixture struct {
	ledger  *memledger.Ledger
	journal *journal.Journal
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l := memledger.New()
	j, err := journal.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	handler, err := New(Config{
		Reader:        l,
		Scanner:       roster.NewScanner(l, roster.WithMaxConcurrency(4)),
		Timeline:      j,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil),
		RateLimiter:   middleware.NewRateLimiter(nil, nil),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &fixture{ledger: l, journal: j, server: srv}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func seed(l *memledger.Ledger, payment *big.Int, accepted, submitted, paid bool) uint64 {
	return l.Seed(gig.Gig{
		Client:        client,
		Freelancer:    freelancer,
		Title:         "Landing page",
		Description:   "Responsive",
		Payment:       payment,
		Accepted:      accepted,
		WorkSubmitted: submitted,
		Paid:          paid,
		Completed:     paid,
	})
}

func TestGetGig(t *testing.T) {
	f := newFixture(t)
	id := seed(f.ledger, eth(1), true, false, false)

	var resp gigResponse
	status := f.get(t, "/v1/gigs/1?caller="+freelancer.Hex(), &resp)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, id, resp.Gig.ID)
	require.Equal(t, "In Progress", resp.Gig.Status)
	require.Equal(t, "1.0", resp.Gig.PaymentEther)
	require.Equal(t, "1000000000000000000", resp.Gig.PaymentWei)
	require.Equal(t, []string{"submitWork"}, resp.AllowedActions)
	require.NotZero(t, resp.Height)

	var errResp map[string]string
	require.Equal(t, http.StatusNotFound, f.get(t, "/v1/gigs/9", &errResp))
	require.Equal(t, "Gig not found.", errResp["error"])
	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/gigs/zero", nil))
	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/gigs/1?height=-1", nil))

	f.ledger.SetPartitioned(true)
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/gigs/1", nil))
}

func TestGetGigAtHeight(t *testing.T) {
	f := newFixture(t)
	seed(f.ledger, eth(1), false, false, false)
	pinned := f.ledger.Height()

	ctx := context.Background()
	receipt, err := f.ledger.SubmitTransition(ctx, 1, gig.ActionAccept, memledger.NewSigner(freelancer))
	require.NoError(t, err)
	_, err = f.ledger.AwaitFinality(ctx, receipt)
	require.NoError(t, err)

	var resp gigResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/gigs/1?height="+itoa(pinned), &resp))
	require.Equal(t, "Waiting", resp.Gig.Status)
	require.Equal(t, http.StatusOK, f.get(t, "/v1/gigs/1", &resp))
	require.Equal(t, "In Progress", resp.Gig.Status)
}

func TestAuthorizeDryRun(t *testing.T) {
	f := newFixture(t)
	seed(f.ledger, eth(1), false, false, false)
	height := f.ledger.Height()

	var ok authorizeResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/gigs/1/authorize?caller="+freelancer.Hex()+"&action=accept", &ok))
	require.True(t, ok.Allowed)
	require.Equal(t, "Waiting", ok.Status)

	var denied authorizeResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/gigs/1/authorize?caller="+client.Hex()+"&action=acceptGig", &denied))
	require.False(t, denied.Allowed)
	require.Equal(t, string(gig.DenyNotFreelancer), denied.Reason)
	require.Equal(t, "Only the freelancer can accept this gig", denied.Message)

	var state authorizeResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/gigs/1/authorize?caller="+client.Hex()+"&action=approveAndPay", &state))
	require.Equal(t, string(gig.DenyInvalidState), state.Reason)
	require.Equal(t, "Submitted", state.Required)

	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/gigs/1/authorize?caller="+stranger.Hex()+"&action=cancel", nil))
	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/gigs/1/authorize?caller=nobody&action=accept", nil))
	require.Equal(t, height, f.ledger.Height(), "a dry run never submits")
}

func TestValidateDraft(t *testing.T) {
	f := newFixture(t)
	height := f.ledger.Height()
	post := func(body string) (int, validateResponse) {
		resp, err := http.Post(f.server.URL+"/v1/gigs/validate", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		var out validateResponse
		if resp.StatusCode != http.StatusBadRequest {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		}
		return resp.StatusCode, out
	}

	status, ok := post(`{"creator":"` + client.Hex() + `","title":"Logo","description":"Vector","freelancer":"` + freelancer.Hex() + `","payment":"0.05"}`)
	require.Equal(t, http.StatusOK, status)
	require.True(t, ok.Valid)
	require.Equal(t, "50000000000000000", ok.PaymentWei)

	status, bad := post(`{"creator":"` + client.Hex() + `","title":" ","description":"Vector","freelancer":"` + client.Hex() + `","payment":"0"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.False(t, bad.Valid)
	reasons := map[string]string{}
	for _, e := range bad.Errors {
		reasons[e.Field] = e.Reason
	}
	require.Equal(t, "EmptyTitle", reasons["title"])
	require.Equal(t, "SelfDealing", reasons["freelancer"])
	require.Equal(t, "InvalidPayment", reasons["payment"])

	status, _ = post(`{"creator":"` + client.Hex() + `","extra":true}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, height, f.ledger.Height(), "validation never submits")
	require.Zero(t, f.ledger.Mine(), "nothing is pending")
}

func TestParticipantGigsReportsIncompleteness(t *testing.T) {
	f := newFixture(t)
	seed(f.ledger, eth(2), true, true, true)
	seed(f.ledger, eth(1), false, false, false)
	f.ledger.Seed(gig.Gig{Client: stranger, Freelancer: client, Title: "t", Description: "d", Payment: eth(3)})
	seed(f.ledger, eth(1), true, false, false)
	f.ledger.FailFetch(4, nil)

	var resp participantResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/participants/"+freelancer.Hex()+"/gigs", &resp))
	require.True(t, resp.Incomplete)
	require.Equal(t, []uint64{4}, resp.FailedIDs)
	require.Equal(t, "1 gig could not be loaded; totals may be incomplete.", resp.Warning)
	require.Len(t, resp.Gigs, 2)
	require.Equal(t, 1, resp.Stats.Completed)
	require.Equal(t, "2.0000", resp.Stats.TotalEarnedEther)
	require.Equal(t, 1, resp.Stats.ByStatus["Waiting"])

	require.Equal(t, http.StatusBadRequest, f.get(t, "/v1/participants/0x123/gigs", nil))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	seed(f.ledger, eth(1), false, false, false)
	seed(f.ledger, eth(2), true, true, true)
	f.ledger.Seed(gig.Gig{Client: stranger, Freelancer: freelancer, Title: "t", Description: "d", Payment: eth(3), Accepted: true})

	var resp statsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/stats", &resp))
	require.False(t, resp.Incomplete)
	require.Equal(t, 3, resp.TotalGigs)
	require.Equal(t, 1, resp.CompletedGigs)
	require.Equal(t, 33, resp.SuccessRate)
	require.Equal(t, 3, resp.UniqueParticipants)
	require.Equal(t, "4.0000", resp.TotalValueLocked)
	require.Equal(t, "6.0000", resp.TotalVolume)

	f.ledger.SetPartitioned(true)
	require.Equal(t, http.StatusServiceUnavailable, f.get(t, "/v1/stats", nil))
}

func TestTimelineFromJournal(t *testing.T) {
	f := newFixture(t)
	c := coordinator.New(f.ledger)
	c.SetEmitter(events.Multi{journal.NewSink(f.journal, nil)})
	ctx := context.Background()

	out, err := c.Create(ctx, gig.NewDraft("Logo", "Vector", freelancer.Hex(), "0.5"), memledger.NewSigner(client))
	require.NoError(t, err)
	_, err = c.Transition(ctx, out.Gig.ID, gig.ActionAccept, memledger.NewSigner(freelancer))
	require.NoError(t, err)

	var resp struct {
		GigID   uint64          `json:"gigId"`
		Entries []timelineEntry `json:"entries"`
	}
	require.Equal(t, http.StatusOK, f.get(t, "/v1/gigs/1/timeline", &resp))
	require.Len(t, resp.Entries, 4)
	require.Equal(t, "Gig created and payment deposited into escrow", resp.Entries[0].Description)
	require.Equal(t, "submitted", resp.Entries[0].Stage)
	require.Equal(t, "confirmed", resp.Entries[3].Stage)
	require.Equal(t, freelancer.Hex(), resp.Entries[3].Actor)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(middleware.HeaderRequestID))

	resp, err = http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Contains(t, body.String(), "rozgar_gateway_requests_total")
}

func TestNewRequiresReader(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func itoa(v uint64) string {
	return new(big.Int).SetUint64(v).String()
}
