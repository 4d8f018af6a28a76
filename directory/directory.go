// Package directory maintains the in-memory registry of chat users seen this
// session. Lookups by id, login or display name return a single shared record
// per identity; records created from partial information are synthesized as
// temporary and promoted in place once the remote platform API fills in the
// missing fields.
package directory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/streamchat/telemetry"
)

// defaultLookupDelay is how long enrichment waits before hitting the remote
// API, giving the transport time to deliver tags that make the call moot.
const defaultLookupDelay = 500 * time.Millisecond

// User is one chat participant. A single *User is shared by every event the
// participant appears in, so flag updates are visible everywhere at once.
type User struct {
	Platform    string
	ID          string
	Login       string
	DisplayName string

	// Color is the user's chat color, assigned from the fallback palette
	// when the platform never announced one.
	Color string

	IsBroadcaster bool
	IsModerator   bool
	IsVIP         bool
	IsSubscriber  bool
	IsPartner     bool
	IsAffiliate   bool
	IsBlocked     bool
	IsBanned      bool

	// IsFollower is nil until the follow state has actually been checked.
	IsFollower *bool

	Pronouns string
	Badges   []Badge

	// Temporary is set on records synthesized from partial identity. It is
	// cleared by promotion when the remote lookup succeeds.
	Temporary bool

	// Greeted marks that the user has already produced a message this
	// session, used for first-message detection.
	Greeted bool

	// RolesKnown is set once role flags were populated from protocol tags,
	// letting enrichment skip the remote role lookup.
	RolesKnown bool
}

// Badge is a chat badge attached to a user in a channel.
type Badge struct {
	ID      string
	Version string
}

// RemoteUser is the subset of the platform user object the directory needs.
type RemoteUser struct {
	ID              string
	Login           string
	DisplayName     string
	BroadcasterType string // "partner", "affiliate" or ""
}

// RemoteAPI is the remote platform surface used for enrichment. Every method
// failure is survivable; the directory logs and keeps the record temporary.
type RemoteAPI interface {
	UsersByID(ctx context.Context, ids []string) ([]RemoteUser, error)
	UsersByLogin(ctx context.Context, logins []string) ([]RemoteUser, error)
	FollowState(ctx context.Context, channelID, userID string) (bool, error)
	Pronouns(ctx context.Context, login, userID string) (string, error)
}

// Directory is the session user registry. Safe for concurrent use.
type Directory struct {
	api       RemoteAPI
	channelID string

	// LookupDelay is the pause before remote enrichment. Exposed so tests
	// do not wait half a second per lookup.
	LookupDelay time.Duration

	mu      sync.Mutex
	users   []*User
	pending map[string]*User // identity key -> temporary record awaiting promotion
	blocked map[string]map[string]bool
	unban   map[string]*time.Timer

	sf singleflight.Group
}

func New(api RemoteAPI, channelID string) *Directory {
	return &Directory{
		api:         api,
		channelID:   channelID,
		LookupDelay: defaultLookupDelay,
		pending:     map[string]*User{},
		blocked:     map[string]map[string]bool{},
		unban:       map[string]*time.Timer{},
	}
}

// Size returns the number of permanent records.
func (d *Directory) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

// identityKey names a user across lookups so concurrent resolves for the same
// partial identity coalesce onto one record.
func identityKey(platform, id, login, displayName string) string {
	switch {
	case id != "":
		return platform + "/id/" + id
	case login != "":
		return platform + "/login/" + strings.ToLower(login)
	default:
		return platform + "/name/" + strings.ToLower(displayName)
	}
}

// Resolve returns the directory record for the given identity fragments,
// creating one when nothing matches. At least one of id, login or displayName
// must be non-empty. The returned record may still be temporary; enrichment
// runs in the background and promotes it in place.
func (d *Directory) Resolve(ctx context.Context, platform, id, login, displayName string) *User {
	login = strings.ToLower(login)

	d.mu.Lock()
	if u := d.findLocked(platform, id, login, displayName); u != nil {
		// Backfill fields a later sighting supplied.
		if u.ID == "" && id != "" {
			u.ID = id
		}
		if u.Login == "" && login != "" {
			u.Login = login
		}
		if (u.DisplayName == "" || u.DisplayName == u.Login) && displayName != "" {
			u.DisplayName = displayName
		}
		d.mu.Unlock()
		return u
	}

	key := identityKey(platform, id, login, displayName)
	if u, ok := d.pending[key]; ok {
		d.mu.Unlock()
		return u
	}

	u := &User{
		Platform:    platform,
		ID:          id,
		Login:       login,
		DisplayName: displayName,
	}
	if u.DisplayName == "" {
		u.DisplayName = u.Login
	}
	if u.Login == "" {
		u.Login = strings.ToLower(u.DisplayName)
	}
	if u.ID == "" {
		u.ID = "temporary_" + uuid.NewString()
		u.Temporary = true
	}
	if u.Login == "" {
		u.Temporary = true
	}
	if blocked := d.blocked[platform]; blocked != nil && blocked[u.ID] {
		u.IsBlocked = true
	}

	if u.Temporary {
		d.pending[key] = u
	} else {
		d.users = append(d.users, u)
		telemetry.SetDirectorySize(len(d.users))
	}
	d.mu.Unlock()

	go d.enrich(ctx, key, u)
	return u
}

// findLocked scans permanent records by id, then login, then display name.
func (d *Directory) findLocked(platform, id, login, displayName string) *User {
	if id != "" {
		for _, u := range d.users {
			if u.Platform == platform && u.ID == id {
				return u
			}
		}
	}
	if login != "" {
		for _, u := range d.users {
			if u.Platform == platform && u.Login == login {
				return u
			}
		}
	}
	if displayName != "" {
		for _, u := range d.users {
			if u.Platform == platform && strings.EqualFold(u.DisplayName, displayName) {
				return u
			}
		}
	}
	return nil
}

// enrich waits out the lookup delay, then fills in whatever the record is
// still missing: identity promotion for temporaries, follow state, pronouns.
// Every remote failure is logged at debug and otherwise ignored.
func (d *Directory) enrich(ctx context.Context, key string, u *User) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d.LookupDelay):
	}

	d.mu.Lock()
	skip := !u.Temporary && u.RolesKnown && u.IsFollower != nil
	temporary := u.Temporary
	d.mu.Unlock()
	if skip || d.api == nil {
		return
	}

	_, _, _ = d.sf.Do(key, func() (any, error) {
		if temporary {
			if !d.promote(ctx, key, u) {
				return nil, nil
			}
		}
		d.checkFollower(ctx, u)
		d.checkPronouns(ctx, u)
		return nil, nil
	})
}

// promote performs the remote identity lookup and, on success, rewrites the
// record in place and moves it from the pending set into the registry. The
// record stays temporary forever when the remote has no answer.
func (d *Directory) promote(ctx context.Context, key string, u *User) bool {
	d.mu.Lock()
	id, login := u.ID, u.Login
	d.mu.Unlock()

	var (
		remote []RemoteUser
		err    error
	)
	if !strings.HasPrefix(id, "temporary_") {
		remote, err = d.api.UsersByID(ctx, []string{id})
	} else if login != "" {
		remote, err = d.api.UsersByLogin(ctx, []string{login})
	} else {
		return false
	}
	if err != nil || len(remote) == 0 {
		slog.Debug("user promotion lookup failed", slog.String("key", key), slog.Any("err", err))
		return false
	}

	r := remote[0]
	d.mu.Lock()
	u.ID = r.ID
	u.Login = strings.ToLower(r.Login)
	if r.DisplayName != "" {
		u.DisplayName = r.DisplayName
	}
	u.IsPartner = r.BroadcasterType == "partner"
	u.IsAffiliate = u.IsPartner || r.BroadcasterType == "affiliate"
	u.Temporary = false
	if blocked := d.blocked[u.Platform]; blocked != nil && blocked[u.ID] {
		u.IsBlocked = true
	}
	delete(d.pending, key)
	if existing := d.findLocked(u.Platform, u.ID, "", ""); existing == nil {
		d.users = append(d.users, u)
		telemetry.SetDirectorySize(len(d.users))
	}
	d.mu.Unlock()
	return true
}

func (d *Directory) checkFollower(ctx context.Context, u *User) {
	d.mu.Lock()
	done := u.IsFollower != nil
	id := u.ID
	d.mu.Unlock()
	if done || d.channelID == "" || id == d.channelID {
		return
	}
	following, err := d.api.FollowState(ctx, d.channelID, id)
	if err != nil {
		slog.Debug("follow state lookup failed", slog.String("user", id), slog.Any("err", err))
		return
	}
	d.mu.Lock()
	u.IsFollower = &following
	d.mu.Unlock()
}

func (d *Directory) checkPronouns(ctx context.Context, u *User) {
	d.mu.Lock()
	login, id, have := u.Login, u.ID, u.Pronouns != ""
	d.mu.Unlock()
	if have {
		return
	}
	pronouns, err := d.api.Pronouns(ctx, login, id)
	if err != nil {
		slog.Debug("pronoun lookup failed", slog.String("user", login), slog.Any("err", err))
		return
	}
	d.mu.Lock()
	u.Pronouns = pronouns
	d.mu.Unlock()
}

// FlagModerator sets or clears the moderator flag on a known user.
func (d *Directory) FlagModerator(platform, id string, on bool) {
	d.setFlag(platform, id, func(u *User) { u.IsModerator = on })
}

// FlagVIP sets or clears the VIP flag on a known user.
func (d *Directory) FlagVIP(platform, id string, on bool) {
	d.setFlag(platform, id, func(u *User) { u.IsVIP = on })
}

// FlagBlocked sets or clears the blocked flag and records the id in the
// per-platform block set so future records pick it up.
func (d *Directory) FlagBlocked(platform, id string, on bool) {
	d.mu.Lock()
	if d.blocked[platform] == nil {
		d.blocked[platform] = map[string]bool{}
	}
	if on {
		d.blocked[platform][id] = true
	} else {
		delete(d.blocked[platform], id)
	}
	d.mu.Unlock()
	d.setFlag(platform, id, func(u *User) { u.IsBlocked = on })
}

// FlagBanned marks a user banned. A non-zero duration schedules an automatic
// unban; a new ban replaces any pending unban timer so a permanent ban is
// never undone by an earlier timeout expiring.
func (d *Directory) FlagBanned(platform, id string, duration time.Duration) {
	d.mu.Lock()
	if t, ok := d.unban[platform+"/"+id]; ok {
		t.Stop()
		delete(d.unban, platform+"/"+id)
	}
	if duration > 0 {
		d.unban[platform+"/"+id] = time.AfterFunc(duration, func() {
			d.FlagUnbanned(platform, id)
		})
	}
	d.mu.Unlock()
	d.setFlag(platform, id, func(u *User) { u.IsBanned = true })
}

// FlagUnbanned clears the banned flag and cancels any pending auto-unban.
func (d *Directory) FlagUnbanned(platform, id string) {
	d.mu.Lock()
	if t, ok := d.unban[platform+"/"+id]; ok {
		t.Stop()
		delete(d.unban, platform+"/"+id)
	}
	d.mu.Unlock()
	d.setFlag(platform, id, func(u *User) { u.IsBanned = false })
}

func (d *Directory) setFlag(platform, id string, apply func(*User)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u := d.findLocked(platform, id, "", ""); u != nil {
		apply(u)
	}
}

// SeedBlocked loads the block list fetched at startup. Already-known users
// are flagged immediately; ids seen later inherit the flag at creation.
func (d *Directory) SeedBlocked(platform string, ids []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocked[platform] == nil {
		d.blocked[platform] = map[string]bool{}
	}
	for _, id := range ids {
		d.blocked[platform][id] = true
		if u := d.findLocked(platform, id, "", ""); u != nil {
			u.IsBlocked = true
		}
	}
}
