// Package memstore is an in-memory store.Store for tests. It keeps the
// semantics handlers rely on (not-found errors, unique keys, one live
// session, pagination) without a database.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/castboard/internal/model"
	"github.com/alfredjeanlab/castboard/internal/store"
)

// Store implements store.Store in memory. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	Persons      map[string]*model.Person
	Snapshots    []*model.Snapshot
	Interactions []*model.Interaction
	Sessions     map[string]*model.Session
	Broadcasts   map[string]*model.Broadcast
	Follows      []*model.FollowHistoryRecord
	Images       map[string]*model.ProfileImage
	Favorites    []*model.FavoriteMedia
	Users        map[string]*model.AuthUser
	AuthSessions map[string]*model.AuthSession
	Settings     map[string]*model.Setting
	Events       []*model.Event

	nextID int64
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		Persons:      make(map[string]*model.Person),
		Sessions:     make(map[string]*model.Session),
		Broadcasts:   make(map[string]*model.Broadcast),
		Images:       make(map[string]*model.ProfileImage),
		Users:        make(map[string]*model.AuthUser),
		AuthSessions: make(map[string]*model.AuthSession),
		Settings:     make(map[string]*model.Setting),
		now:          time.Now,
	}
}

func (m *Store) id() int64 {
	m.nextID++
	return m.nextID
}

func page[T any](rows []T, p model.Page) []T {
	p = p.Normalize()
	if p.Offset >= len(rows) {
		return []T{}
	}
	end := min(p.Offset+p.Limit, len(rows))
	return rows[p.Offset:end]
}

func clonePerson(p *model.Person) *model.Person {
	c := *p
	c.Tags = append([]string{}, p.Tags...)
	return &c
}

// Persons

func (m *Store) CreatePerson(_ context.Context, p *model.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Persons {
		if existing.Platform == p.Platform && existing.Username == p.Username {
			return store.ErrDuplicate
		}
	}
	now := m.now().UTC()
	if p.FirstSeenAt.IsZero() {
		p.FirstSeenAt = now
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt, p.UpdatedAt = now, now
	m.Persons[p.ID] = clonePerson(p)
	return nil
}

func (m *Store) UpsertPerson(_ context.Context, p *model.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	for _, existing := range m.Persons {
		if existing.Platform == p.Platform && existing.Username == p.Username {
			seen := p.FirstSeenAt
			if existing.LastSeenAt == nil || seen.After(*existing.LastSeenAt) {
				existing.LastSeenAt = &seen
			}
			if p.Role == model.RoleModel {
				existing.Role = model.RoleModel
			}
			existing.UpdatedAt = now
			*p = *clonePerson(existing)
			return nil
		}
	}
	seen := p.FirstSeenAt
	p.LastSeenAt = &seen
	if p.Tags == nil {
		p.Tags = []string{}
	}
	p.CreatedAt, p.UpdatedAt = now, now
	m.Persons[p.ID] = clonePerson(p)
	return nil
}

func (m *Store) GetPerson(_ context.Context, id string) (*model.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Persons[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return clonePerson(p), nil
}

func (m *Store) GetPersonByUsername(_ context.Context, platform model.Platform, username string) (*model.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Persons {
		if p.Platform == platform && p.Username == username {
			return clonePerson(p), nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Store) ListPersons(_ context.Context, filter model.PersonFilter) ([]*model.Person, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Person
	for _, p := range m.Persons {
		if filter.Search != "" && !strings.Contains(p.Username, strings.ToLower(filter.Search)) {
			continue
		}
		if filter.Role != "" && p.Role != filter.Role {
			continue
		}
		out = append(out, clonePerson(p))
	}
	sortPersons(out, filter.Sort)
	return page(out, filter.Page), len(out), nil
}

// sortPersons orders persons like the postgres store: sort names a column,
// optionally prefixed with "-" for descending, and the default is most
// recently seen first with never-seen persons last. Ties fall back to
// username.
func sortPersons(persons []*model.Person, sortKey string) {
	desc := strings.HasPrefix(sortKey, "-")
	col := strings.TrimPrefix(sortKey, "-")
	if col == "" {
		col, desc = "last_seen_at", true
	}
	cmp := func(a, b *model.Person) int {
		switch col {
		case "username":
			return strings.Compare(a.Username, b.Username)
		case "first_seen_at":
			return a.FirstSeenAt.Compare(b.FirstSeenAt)
		case "interaction_count":
			return a.InteractionCount - b.InteractionCount
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return 0
	}
	sort.SliceStable(persons, func(i, j int) bool {
		a, b := persons[i], persons[j]
		if col == "last_seen_at" {
			// NULLS LAST in both directions.
			switch {
			case a.LastSeenAt == nil && b.LastSeenAt == nil:
			case a.LastSeenAt == nil:
				return false
			case b.LastSeenAt == nil:
				return true
			default:
				if c := a.LastSeenAt.Compare(*b.LastSeenAt); c != 0 {
					return (c < 0) != desc
				}
			}
			return a.Username < b.Username
		}
		if c := cmp(a, b); c != 0 {
			return (c < 0) != desc
		}
		return a.Username < b.Username
	})
}

func (m *Store) UpdatePerson(_ context.Context, p *model.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.Persons[p.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Notes = p.Notes
	existing.Tags = append([]string{}, p.Tags...)
	existing.Role = p.Role
	existing.UpdatedAt = m.now().UTC()
	*p = *clonePerson(existing)
	return nil
}

func (m *Store) DeletePerson(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Persons[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.Persons, id)
	return nil
}

func (m *Store) SetFollowState(_ context.Context, personID string, dir model.FollowDirection, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Persons[personID]
	if !ok {
		return sql.ErrNoRows
	}
	if dir == model.DirectionFollower {
		p.IsFollower = on
	} else {
		p.IsFollowing = on
	}
	return nil
}

func (m *Store) AddSnapshot(_ context.Context, s *model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Persons[s.PersonID]
	if !ok {
		return sql.ErrNoRows
	}
	s.ID = m.id()
	if s.CapturedAt.IsZero() {
		s.CapturedAt = m.now().UTC()
	}
	p.SnapshotCount++
	c := *s
	m.Snapshots = append(m.Snapshots, &c)
	return nil
}

func (m *Store) ListSnapshots(_ context.Context, personID string, p model.Page) ([]*model.Snapshot, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Snapshot
	for i := len(m.Snapshots) - 1; i >= 0; i-- {
		if m.Snapshots[i].PersonID == personID {
			out = append(out, m.Snapshots[i])
		}
	}
	return page(out, p), len(out), nil
}

func (m *Store) LatestSnapshot(ctx context.Context, personID string) (*model.Snapshot, error) {
	out, _, _ := m.ListSnapshots(ctx, personID, model.Page{Limit: 1})
	if len(out) == 0 {
		return nil, sql.ErrNoRows
	}
	return out[0], nil
}

// Interactions

func (m *Store) AddInteraction(_ context.Context, in *model.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.ExternalID != "" {
		for _, existing := range m.Interactions {
			if existing.ExternalID == in.ExternalID {
				return store.ErrDuplicate
			}
		}
	}
	p, ok := m.Persons[in.PersonID]
	if !ok {
		return sql.ErrNoRows
	}
	in.ID = m.id()
	in.Username = p.Username
	p.InteractionCount++
	ts := in.Timestamp
	if p.LastSeenAt == nil || ts.After(*p.LastSeenAt) {
		p.LastSeenAt = &ts
	}
	c := *in
	m.Interactions = append(m.Interactions, &c)
	return nil
}

func (m *Store) ListInteractions(_ context.Context, f model.InteractionFilter) ([]*model.Interaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Interaction
	for _, in := range m.Interactions {
		if f.PersonID != "" && in.PersonID != f.PersonID {
			continue
		}
		if f.SessionID != "" && in.SessionID != f.SessionID {
			continue
		}
		if len(f.Types) > 0 && !containsType(f.Types, in.Type) {
			continue
		}
		if f.Since != nil && in.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && !in.Timestamp.Before(*f.Until) {
			continue
		}
		c := *in
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return page(out, f.Page), len(out), nil
}

func containsType(types []model.InteractionType, t model.InteractionType) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

func (m *Store) SumTokens(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, in := range m.Interactions {
		if in.Type == model.InteractionTip && !in.Timestamp.Before(since) {
			total += in.Tokens
		}
	}
	return total, nil
}

// Sessions and broadcasts

func (m *Store) StartSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Sessions {
		if existing.Status == model.SessionLive {
			return store.ErrConflict
		}
	}
	s.Status = model.SessionLive
	c := *s
	m.Sessions[s.ID] = &c
	return nil
}

func (m *Store) EndSession(_ context.Context, id string, endedAt time.Time) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok || s.Status != model.SessionLive {
		return nil, sql.ErrNoRows
	}
	s.Status = model.SessionEnded
	s.EndedAt = &endedAt
	c := *s
	return &c, nil
}

func (m *Store) GetSession(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *s
	return &c, nil
}

func (m *Store) GetLiveSession(_ context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.Status == model.SessionLive {
			c := *s
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Store) ListSessions(_ context.Context, p model.Page) ([]*model.Session, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Session
	for _, s := range m.Sessions {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, p), len(out), nil
}

// ComputeBroadcast rolls up the session's interactions the same way the SQL
// implementation does.
func (m *Store) ComputeBroadcast(_ context.Context, s *model.Session) (*model.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.EndedAt == nil {
		return nil, sql.ErrNoRows
	}
	b := &model.Broadcast{
		SessionID:       s.ID,
		Broadcaster:     s.Broadcaster,
		StartedAt:       s.StartedAt,
		EndedAt:         *s.EndedAt,
		DurationMinutes: int(s.Duration(*s.EndedAt).Minutes()),
	}
	chatters := map[string]bool{}
	viewers := map[string]bool{}
	var subjectAt time.Time
	for _, in := range m.Interactions {
		if in.SessionID != s.ID {
			continue
		}
		switch in.Type {
		case model.InteractionTip:
			b.TotalTokens += in.Tokens
			b.TipCount++
		case model.InteractionChat:
			b.ChatCount++
			chatters[in.PersonID] = true
		case model.InteractionUserEnter:
			viewers[in.PersonID] = true
		case model.InteractionRoomSubjectChange:
			if !in.Timestamp.Before(subjectAt) {
				subjectAt = in.Timestamp
				b.RoomSubject = in.Content
			}
		}
	}
	b.UniqueChatters = len(chatters)
	b.PeakViewers = len(viewers)
	for _, f := range m.Follows {
		if f.Direction != model.DirectionFollower || f.DetectedAt.Before(s.StartedAt) || f.DetectedAt.After(*s.EndedAt) {
			continue
		}
		if f.Action == model.ActionFollow {
			b.FollowersGained++
		} else {
			b.FollowersLost++
		}
	}
	return b, nil
}

func (m *Store) SaveBroadcast(_ context.Context, b *model.Broadcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Broadcasts {
		if existing.SessionID == b.SessionID {
			b.ID = existing.ID
			b.CreatedAt = existing.CreatedAt
			break
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now().UTC()
	}
	c := *b
	m.Broadcasts[b.ID] = &c
	return nil
}

func (m *Store) GetBroadcast(_ context.Context, id string) (*model.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Broadcasts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *b
	return &c, nil
}

func (m *Store) ListBroadcasts(_ context.Context, p model.Page) ([]*model.Broadcast, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Broadcast
	for _, b := range m.Broadcasts {
		c := *b
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return page(out, p), len(out), nil
}

func (m *Store) UpdateBroadcastSummary(_ context.Context, id, summary, summaryModel string, at time.Time) (*model.Broadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Broadcasts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	b.Summary = summary
	b.SummaryModel = summaryModel
	b.SummaryGeneratedAt = &at
	c := *b
	return &c, nil
}

func (m *Store) TopTippers(_ context.Context, sessionID string, limit int) ([]model.TopTipper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := map[string]int{}
	for _, in := range m.Interactions {
		if in.SessionID == sessionID && in.Type == model.InteractionTip {
			totals[in.Username] += in.Tokens
		}
	}
	out := make([]model.TopTipper, 0, len(totals))
	for u, t := range totals {
		out = append(out, model.TopTipper{Username: u, Tokens: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tokens == out[j].Tokens {
			return out[i].Username < out[j].Username
		}
		return out[i].Tokens > out[j].Tokens
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Follows

func (m *Store) AddFollowRecord(_ context.Context, r *model.FollowHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Persons[r.PersonID]
	if !ok {
		return sql.ErrNoRows
	}
	r.ID = m.id()
	r.Username = p.Username
	c := *r
	m.Follows = append(m.Follows, &c)
	return nil
}

func (m *Store) ListFollowHistory(_ context.Context, personID string, dir model.FollowDirection, p model.Page) ([]*model.FollowHistoryRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FollowHistoryRecord
	for i := len(m.Follows) - 1; i >= 0; i-- {
		f := m.Follows[i]
		if personID != "" && f.PersonID != personID {
			continue
		}
		if dir != "" && f.Direction != dir {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return page(out, p), len(out), nil
}

func (m *Store) FollowDayCounts(_ context.Context, dir model.FollowDirection, since time.Time) ([]model.FollowDayCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDay := map[time.Time]*model.FollowDayCount{}
	for _, f := range m.Follows {
		if f.Direction != dir || f.DetectedAt.Before(since) {
			continue
		}
		t := f.DetectedAt.UTC()
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		c, ok := byDay[day]
		if !ok {
			c = &model.FollowDayCount{Day: day}
			byDay[day] = c
		}
		if f.Action == model.ActionFollow {
			c.Follows++
		} else {
			c.Unfollows++
		}
	}
	out := make([]model.FollowDayCount, 0, len(byDay))
	for _, c := range byDay {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

func (m *Store) CountFollowState(_ context.Context, dir model.FollowDirection) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.Persons {
		if (dir == model.DirectionFollower && p.IsFollower) || (dir == model.DirectionFollowing && p.IsFollowing) {
			n++
		}
	}
	return n, nil
}

func (m *Store) ListFollowUsernames(_ context.Context, dir model.FollowDirection) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.Persons {
		if (dir == model.DirectionFollower && p.IsFollower) || (dir == model.DirectionFollowing && p.IsFollowing) {
			out = append(out, p.Username)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Media

func (m *Store) AddProfileImage(_ context.Context, img *model.ProfileImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Images {
		if existing.FilePath == img.FilePath {
			return store.ErrDuplicate
		}
	}
	if _, ok := m.Persons[img.PersonID]; !ok {
		return sql.ErrNoRows
	}
	c := *img
	m.Images[img.ID] = &c
	return nil
}

func (m *Store) GetProfileImage(_ context.Context, id string) (*model.ProfileImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.Images[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *img
	return &c, nil
}

func (m *Store) ListProfileImages(_ context.Context, personID string) ([]*model.ProfileImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ProfileImage
	for _, img := range m.Images {
		if img.PersonID == personID && img.DeletedAt == nil {
			c := *img
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

func (m *Store) ListAllProfileImages(_ context.Context, includeDeleted bool) ([]*model.ProfileImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ProfileImage
	for _, img := range m.Images {
		if img.DeletedAt == nil || includeDeleted {
			c := *img
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (m *Store) SoftDeleteProfileImage(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.Images[id]
	if !ok || img.DeletedAt != nil {
		return sql.ErrNoRows
	}
	img.DeletedAt = &at
	img.IsPrimary = false
	return nil
}

func (m *Store) AddFavorite(_ context.Context, f *model.FavoriteMedia) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Favorites {
		if existing.MediaType == f.MediaType && existing.MediaID == f.MediaID {
			return store.ErrDuplicate
		}
	}
	f.ID = m.id()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = m.now().UTC()
	}
	c := *f
	m.Favorites = append(m.Favorites, &c)
	return nil
}

func (m *Store) GetFavorite(_ context.Context, mediaType model.MediaType, mediaID string) (*model.FavoriteMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Favorites {
		if f.MediaType == mediaType && f.MediaID == mediaID {
			c := *f
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Store) RemoveFavorite(_ context.Context, mediaType model.MediaType, mediaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.Favorites {
		if f.MediaType == mediaType && f.MediaID == mediaID {
			m.Favorites = append(m.Favorites[:i], m.Favorites[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *Store) ListFavorites(_ context.Context, mediaType model.MediaType, p model.Page) ([]*model.FavoriteMedia, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.FavoriteMedia
	for i := len(m.Favorites) - 1; i >= 0; i-- {
		f := m.Favorites[i]
		if mediaType != "" && f.MediaType != mediaType {
			continue
		}
		c := *f
		out = append(out, &c)
	}
	return page(out, p), len(out), nil
}

// Auth

func (m *Store) CreateUser(_ context.Context, u *model.AuthUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Users {
		if existing.Username == u.Username {
			return store.ErrDuplicate
		}
	}
	u.CreatedAt = m.now().UTC()
	c := *u
	m.Users[u.ID] = &c
	return nil
}

func (m *Store) GetUser(_ context.Context, id string) (*model.AuthUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *u
	return &c, nil
}

func (m *Store) GetUserByUsername(_ context.Context, username string) (*model.AuthUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.Users {
		if u.Username == username {
			c := *u
			return &c, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *Store) UpdateUserTOTP(_ context.Context, userID, secret string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.TOTPSecret = secret
	u.TOTPEnabled = enabled
	return nil
}

func (m *Store) TouchUserLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.LastLoginAt = &at
	return nil
}

func (m *Store) CreateAuthSession(_ context.Context, s *model.AuthSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.AuthSessions[s.ID] = &c
	return nil
}

func (m *Store) GetAuthSession(_ context.Context, id string) (*model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.AuthSessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *s
	return &c, nil
}

func (m *Store) TouchAuthSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.AuthSessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.LastSeenAt = at
	return nil
}

func (m *Store) CompleteTwoFactor(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.AuthSessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.TwoFactorPending = false
	return nil
}

func (m *Store) ListAuthSessions(_ context.Context, userID string) ([]*model.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AuthSession
	for _, s := range m.AuthSessions {
		if s.UserID == userID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	return out, nil
}

func (m *Store) DeleteAuthSession(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.AuthSessions[id]
	if !ok || s.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.AuthSessions, id)
	return nil
}

func (m *Store) DeleteOtherAuthSessions(_ context.Context, userID, keepID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.AuthSessions {
		if s.UserID == userID && id != keepID {
			delete(m.AuthSessions, id)
			n++
		}
	}
	return n, nil
}

func (m *Store) DeleteExpiredAuthSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.AuthSessions {
		if s.Expired(now) {
			delete(m.AuthSessions, id)
			n++
		}
	}
	return n, nil
}

// Settings

func (m *Store) SetSetting(_ context.Context, s *model.Setting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if existing, ok := m.Settings[s.Key]; ok {
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	c := *s
	m.Settings[s.Key] = &c
	return nil
}

func (m *Store) GetSetting(_ context.Context, key string) (*model.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Settings[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	c := *s
	return &c, nil
}

func (m *Store) ListSettings(_ context.Context) ([]*model.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Setting, 0, len(m.Settings))
	for _, s := range m.Settings {
		c := *s
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Store) DeleteSetting(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Settings[key]; !ok {
		return sql.ErrNoRows
	}
	delete(m.Settings, key)
	return nil
}

// Events and lifecycle

func (m *Store) RecordEvent(_ context.Context, e *model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.id()
	e.CreatedAt = m.now().UTC()
	c := *e
	m.Events = append(m.Events, &c)
	return nil
}

// EventTopics returns the topics of recorded events in order.
func (m *Store) EventTopics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Topic
	}
	return out
}

// RunInTransaction runs fn against the store itself; there is no rollback.
func (m *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(m)
}

func (m *Store) Ping(context.Context) error { return nil }

func (m *Store) Close() error { return nil }
