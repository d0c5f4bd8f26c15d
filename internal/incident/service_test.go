package incident_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/alertify-service/internal/adapter/memory"
	"github.com/couchcryptid/alertify-service/internal/classifier"
	"github.com/couchcryptid/alertify-service/internal/domain"
	"github.com/couchcryptid/alertify-service/internal/hub"
	"github.com/couchcryptid/alertify-service/internal/incident"
	"github.com/couchcryptid/alertify-service/internal/lexicon"
	"github.com/couchcryptid/alertify-service/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin   = domain.Admin("ops")
	citizen = domain.Citizen("Juan")
	anon    = domain.Anonymous()
)

var rules = classifier.NewRules(lexicon.NewMatcher(lexicon.Default()))

type fixture struct {
	svc  *incident.Service
	repo incident.Repository
	hub  *hub.Hub
}

func newFixture(t *testing.T, repo incident.Repository, opts ...incident.Option) fixture {
	t.Helper()
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2024, 11, 17, 8, 30, 0, 0, time.UTC)))
	t.Cleanup(func() { domain.SetClock(nil) })

	if repo == nil {
		repo = memory.New()
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	h := hub.New(100, logger, metrics)
	t.Cleanup(h.Close)
	return fixture{
		svc:  incident.NewService(repo, rules, h, logger, metrics, opts...),
		repo: repo,
		hub:  h,
	}
}

func (f fixture) create(t *testing.T, content string) domain.Post {
	t.Helper()
	p, err := f.svc.CreatePost(context.Background(), admin, "Juan", content)
	require.NoError(t, err)
	return p
}

func subscribe(t *testing.T, f fixture) *hub.Subscription {
	t.Helper()
	sub, err := f.svc.Subscribe(context.Background(), admin)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func next(t *testing.T, sub *hub.Subscription) domain.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return domain.Event{}
	}
}

func assertNoEvent(t *testing.T, sub *hub.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %s for post %d", ev.Type, ev.Post.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCreatePost_Permission(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CreatePost(context.Background(), anon, "Juan", "baha")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestCreatePost_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name    string
		caller  domain.Caller
		author  string
		content string
		field   string
	}{
		{"empty content", citizen, "Juan", "   ", "content"},
		{"content too long", citizen, "Juan", strings.Repeat("a", incident.MaxContentRunes+1), "content"},
		{"no author anywhere", domain.Citizen(""), " ", "baha", "author"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreatePost(context.Background(), tc.caller, tc.author, tc.content)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	posts, err := f.svc.GetPosts(context.Background(), admin, incident.Filter{})
	require.NoError(t, err)
	assert.Empty(t, posts, "rejected submissions are never stored")
}

func TestCreatePost_Author(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.svc.CreatePost(ctx, domain.Citizen("Aling Nena"), "", "baha")
	require.NoError(t, err)
	assert.Equal(t, "Aling Nena", p.Author)

	long := strings.Repeat("ñ", 80)
	p, err = f.svc.CreatePost(ctx, citizen, long, "baha")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ñ", incident.MaxAuthorRunes), p.Author)

	content := strings.Repeat("b", incident.MaxContentRunes)
	_, err = f.svc.CreatePost(ctx, citizen, "Juan", content)
	assert.NoError(t, err, "content at the limit is accepted")
}

func TestCreatePost_ClassifiesAndMasks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.svc.CreatePost(ctx, citizen, "Juan", "may nasunog sa JP Laurel, konting apoy lang")
	require.NoError(t, err)
	assert.Nil(t, p.Triage, "citizens never see triage data")
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, time.Date(2024, 11, 17, 8, 30, 0, 0, time.UTC), p.CreatedAt)

	stored, err := f.svc.GetPost(ctx, admin, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Triage)
	assert.Equal(t, domain.DisasterFire, stored.DisasterType)
	assert.Equal(t, domain.StatusNew, stored.Status)
	assert.Contains(t, stored.LocationText, "JP Laurel")
	assert.GreaterOrEqual(t, stored.Confidence, 85)
	assert.LessOrEqual(t, stored.Confidence, 99)

	masked, err := f.svc.GetPost(ctx, citizen, p.ID)
	require.NoError(t, err)
	assert.Nil(t, masked.Triage)

	_, err = f.svc.GetPost(ctx, citizen, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreatePost_PublishesOnlyDisasters(t *testing.T) {
	f := newFixture(t, nil)
	sub := subscribe(t, f)

	f.create(t, "hello good morning everyone")
	assertNoEvent(t, sub)

	p := f.create(t, "stuck on roof need rescue now SOS")
	ev := next(t, sub)
	assert.Equal(t, domain.EventNewPost, ev.Type)
	assert.Equal(t, p.ID, ev.Post.ID)
	require.NotNil(t, ev.Post.Triage)
	assert.Equal(t, domain.UrgencyCritical, ev.Post.Urgency)
	assert.Equal(t, uint64(1), ev.Seq)
}

func TestCreatePost_EventsInIDOrder(t *testing.T) {
	f := newFixture(t, nil)
	sub := subscribe(t, f)

	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreatePost(context.Background(), citizen, "Juan", "baha sa sabang")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var last int64
	for range 40 {
		ev := next(t, sub)
		assert.Greater(t, ev.Post.ID, last)
		last = ev.Post.ID
	}
}

func TestGetPosts_Filter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "baha sa sabang")
	f.create(t, "hello good morning everyone")
	f.create(t, "sunog sa marawoy")

	tests := []struct {
		name   string
		filter incident.Filter
		want   []int64
	}{
		{"everything", incident.Filter{}, []int64{3, 2, 1}},
		{"only disasters", incident.Filter{OnlyDisaster: true}, []int64{3, 1}},
		{"only disasters including filtered", incident.Filter{OnlyDisaster: true, IncludeFiltered: true}, []int64{3, 2, 1}},
		{"limit", incident.Filter{Limit: 1}, []int64{3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			posts, err := f.svc.GetPosts(ctx, admin, tc.filter)
			require.NoError(t, err)
			ids := make([]int64, 0, len(posts))
			for _, p := range posts {
				ids = append(ids, p.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}

	_, err := f.svc.GetPosts(ctx, admin, incident.Filter{Limit: -1})
	assert.True(t, domain.IsValidation(err))
}

func TestGetPosts_MasksForNonOperators(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, "baha sa sabang")

	for _, caller := range []domain.Caller{citizen, anon} {
		posts, err := f.svc.GetPosts(context.Background(), caller, incident.Filter{})
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Nil(t, posts[0].Triage)
	}
}

func TestUpdatePostStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.create(t, "baha sa sabang")
	sub := subscribe(t, f)

	_, err := f.svc.UpdatePostStatus(ctx, citizen, p.ID, domain.StatusAck)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	updated, err := f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusAck)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAck, updated.Status)
	ev := next(t, sub)
	assert.Equal(t, domain.EventUpdatePost, ev.Type)
	assert.Equal(t, domain.StatusAck, ev.Post.Status)

	same, err := f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusAck)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAck, same.Status)
	assertNoEvent(t, sub)

	_, err = f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusNew)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusResolved)
	require.NoError(t, err)
	next(t, sub)

	_, err = f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusValidated)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "backward moves need an override")

	_, err = f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.Status("DONE"))
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.UpdatePostStatus(ctx, admin, 999, domain.StatusAck)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOverridePostStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.create(t, "baha sa sabang")

	_, err := f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusResolved)
	require.NoError(t, err)

	reopened, err := f.svc.OverridePostStatus(ctx, admin, p.ID, domain.StatusAck)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAck, reopened.Status)

	_, err = f.svc.OverridePostStatus(ctx, admin, p.ID, domain.StatusNew)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.OverridePostStatus(ctx, citizen, p.ID, domain.StatusAck)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestUpdatePostStatus_ConcurrentAckAndResolve(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for range 25 {
		p := f.create(t, "baha sa sabang")

		var wg sync.WaitGroup
		for _, st := range []domain.Status{domain.StatusAck, domain.StatusResolved} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.UpdatePostStatus(ctx, admin, p.ID, st)
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrInvalidTransition)
				}
			}()
		}
		wg.Wait()

		final, err := f.svc.GetPost(ctx, admin, p.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusResolved, final.Status)
	}
}

func TestUpdatePostStatus_AcceptsAlias(t *testing.T) {
	f := newFixture(t, nil)
	p := f.create(t, "baha sa sabang")

	updated, err := f.svc.UpdatePostStatus(context.Background(), admin, p.ID, domain.Status("acknowledged"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAck, updated.Status)
}

// slowCreateRepo commits a post, then holds Create's return until released,
// leaving the row visible to other callers in between.
type slowCreateRepo struct {
	*memory.Repository
	committed chan struct{}
	release   chan struct{}
}

func (r slowCreateRepo) Create(ctx context.Context, p domain.Post) (domain.Post, error) {
	stored, err := r.Repository.Create(ctx, p)
	close(r.committed)
	<-r.release
	return stored, err
}

func TestUpdatePostStatus_NeverPublishedBeforeNewPost(t *testing.T) {
	repo := slowCreateRepo{
		Repository: memory.New(),
		committed:  make(chan struct{}),
		release:    make(chan struct{}),
	}
	f := newFixture(t, repo)
	sub := subscribe(t, f)
	ctx := context.Background()

	created := make(chan error, 1)
	go func() {
		_, err := f.svc.CreatePost(ctx, citizen, "Juan", "baha sa sabang")
		created <- err
	}()
	<-repo.committed

	posts, err := f.svc.GetPosts(ctx, admin, incident.Filter{})
	require.NoError(t, err)
	require.Len(t, posts, 1, "committed row is visible before CreatePost returns")

	acked := make(chan error, 1)
	go func() {
		_, err := f.svc.UpdatePostStatus(ctx, admin, posts[0].ID, domain.StatusAck)
		acked <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(repo.release)

	require.NoError(t, <-created)
	require.NoError(t, <-acked)

	first := next(t, sub)
	assert.Equal(t, domain.EventNewPost, first.Type)
	assert.Equal(t, domain.StatusNew, first.Post.Status)

	second := next(t, sub)
	assert.Equal(t, domain.EventUpdatePost, second.Type)
	assert.Equal(t, domain.StatusAck, second.Post.Status)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestSubscribe_AdminOnly(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Subscribe(context.Background(), citizen)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	f.hub.Close()
	_, err = f.svc.Subscribe(context.Background(), admin)
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestAnalytics(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.create(t, "baha sa sabang")
	f.create(t, "sunog dito")
	f.create(t, "hello good morning everyone")
	_, err := f.svc.UpdatePostStatus(ctx, admin, a.ID, domain.StatusResolved)
	require.NoError(t, err)

	got, err := f.svc.Analytics(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Disasters)
	assert.Equal(t, 1, got.Filtered)
	assert.Equal(t, 1, got.Open)
	assert.Equal(t, map[string]int{"Flood": 1, "Fire": 1}, got.ByType)
	assert.Equal(t, map[string]int{"Sabang": 1, incident.UnspecifiedLocation: 1}, got.ByLocation)
	assert.Equal(t, map[string]int{"NEW": 2, "ACK": 0, "VALIDATED": 0, "RESOLVED": 1}, got.ByStatus)
	assert.GreaterOrEqual(t, got.AverageConfidence, 85.0)

	_, err = f.svc.Analytics(ctx, citizen)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestExport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "baha sa sabang")
	f.create(t, "hello, \"good\" morning")

	var buf bytes.Buffer
	require.NoError(t, f.svc.Export(ctx, admin, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, incident.ExportHeader, rows[0])
	assert.Equal(t, "1", rows[1][0], "oldest first")
	assert.Equal(t, "Flood", rows[1][5])
	assert.Equal(t, "Sabang", rows[1][7])
	assert.Equal(t, "13.936000", rows[1][8])
	assert.Equal(t, "hello, \"good\" morning", rows[2][3])
	assert.Equal(t, "false", rows[2][4])
	assert.Empty(t, rows[2][10], "no confidence for filtered posts")

	assert.ErrorIs(t, f.svc.Export(ctx, citizen, io.Discard), domain.ErrPermissionDenied)
}

func TestExport_NeutralizesFormulas(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		author, content string
		want            string
	}{
		{"Juan", `=HYPERLINK("http://x","click")`, `'=HYPERLINK("http://x","click")`},
		{"Juan", "+63 917 baha", "'+63 917 baha"},
		{"Juan", "-1 baha", "'-1 baha"},
		{"Juan", "@SUM(A1)", "'@SUM(A1)"},
		{"Juan", "baha = tubig", "baha = tubig"},
	}
	for _, tc := range tests {
		_, err := f.svc.CreatePost(ctx, admin, tc.author, tc.content)
		require.NoError(t, err)
	}
	_, err := f.svc.CreatePost(ctx, admin, "=cmd|' /C calc'!A0", "hello")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.Export(ctx, admin, &buf))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(tests)+2)

	for i, tc := range tests {
		assert.Equal(t, tc.want, rows[i+1][3], tc.content)
	}
	assert.Equal(t, "'=cmd|' /C calc'!A0", rows[len(tests)+1][2])
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func TestEventSink_MirrorsPublishedEvents(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, nil, incident.WithEventSink(sink))
	ctx := context.Background()

	p := f.create(t, "baha sa sabang")
	_, err := f.svc.UpdatePostStatus(ctx, admin, p.ID, domain.StatusAck)
	require.NoError(t, err)

	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventNewPost, sink.events[0].Type)
	assert.Equal(t, uint64(1), sink.events[0].Seq)
	assert.Equal(t, domain.EventUpdatePost, sink.events[1].Type)
	assert.Equal(t, uint64(2), sink.events[1].Seq)
}

func TestEventSink_FailureDoesNotFailWrite(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	f := newFixture(t, nil, incident.WithEventSink(sink))
	p := f.create(t, "baha sa sabang")
	assert.NotZero(t, p.ID)
}

type stubGeocoder struct{ calls int }

func (g *stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (domain.GeocodingResult, error) {
	g.calls++
	return domain.GeocodingResult{FormattedAddress: "Sabang, Lipa City, Batangas"}, nil
}

func TestCreatePost_AddressEnrichment(t *testing.T) {
	g := &stubGeocoder{}
	f := newFixture(t, nil, incident.WithGeocoder(g))

	p := f.create(t, "baha sa sabang")
	assert.Equal(t, "Sabang, Lipa City, Batangas", p.Address)

	p = f.create(t, "baha dito")
	assert.Empty(t, p.Address, "fallback pins are not geocoded")

	f.create(t, "hello good morning everyone")
	assert.Equal(t, 1, g.calls)
}

type failingRepo struct {
	*memory.Repository
}

func (failingRepo) Create(context.Context, domain.Post) (domain.Post, error) {
	return domain.Post{}, domain.Transient("insert post", errors.New("connection refused"))
}

func (failingRepo) Ping(context.Context) error {
	return domain.Transient("ping", errors.New("connection refused"))
}

func TestCreatePost_TransientFailure(t *testing.T) {
	f := newFixture(t, failingRepo{memory.New()})
	sub := subscribe(t, f)

	_, err := f.svc.CreatePost(context.Background(), citizen, "Juan", "baha sa sabang")
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.False(t, incident.IsClientError(err))
	assertNoEvent(t, sub)

	assert.ErrorIs(t, f.svc.CheckReadiness(context.Background()), domain.ErrTransient)
}

func TestCheckReadiness(t *testing.T) {
	f := newFixture(t, nil)
	assert.NoError(t, f.svc.CheckReadiness(context.Background()))
}
