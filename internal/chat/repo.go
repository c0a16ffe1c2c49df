package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// guidelineOrder is the natural return order of the catalogue.
const guidelineOrder = "priority DESC, created_at ASC, id ASC"

const (
	DefaultCatalogTTL = 30 * time.Second
	catalogCleanup    = 2 * time.Minute
)

// NewID returns a ULID. ULIDs from one process are monotonic, so ordering by id
// breaks created_at ties chronologically.
func NewID() string {
	return ulid.Make().String()
}

type Repo struct {
	db *gorm.DB
	// active guidelines keyed by strength; flushed on every catalogue write.
	// The cache is per process: writes from another process show up once the
	// entry expires. Nil when disabled.
	catalog *cache.Cache
}

type RepoOption func(*repoOptions)

type repoOptions struct {
	catalogTTL time.Duration
}

// WithCatalogTTL sets how long active guidelines are cached. Zero or less
// disables the cache, so every selection reads the database.
func WithCatalogTTL(d time.Duration) RepoOption {
	return func(o *repoOptions) { o.catalogTTL = d }
}

func NewRepo(db *gorm.DB, opts ...RepoOption) *Repo {
	o := repoOptions{catalogTTL: DefaultCatalogTTL}
	for _, opt := range opts {
		opt(&o)
	}
	r := &Repo{db: db}
	if o.catalogTTL > 0 {
		r.catalog = cache.New(o.catalogTTL, catalogCleanup)
	}
	return r
}

// Sessions

func (r *Repo) CreateSession(ctx context.Context) (*Session, error) {
	s := &Session{ID: NewID()}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repo) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) UpdateSessionSummary(ctx context.Context, id, summary string) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Update("summary", summary)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListSessions returns sessions newest first, each with its messages in
// chronological order and per-session counters.
func (r *Repo) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Order("created_at DESC, id DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}

	msgCounts, err := r.countBySession(ctx, &Message{})
	if err != nil {
		return nil, err
	}
	usageCounts, err := r.countBySession(ctx, &GuidelineUsage{})
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].MessageCount = msgCounts[sessions[i].ID]
		sessions[i].UsageCount = usageCounts[sessions[i].ID]
	}
	return sessions, nil
}

func (r *Repo) countBySession(ctx context.Context, model any) (map[string]int64, error) {
	var rows []struct {
		SessionID string
		N         int64
	}
	if err := r.db.WithContext(ctx).Model(model).
		Select("session_id, COUNT(*) AS n").
		Group("session_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.SessionID] = row.N
	}
	return out, nil
}

// DeleteSession removes the session with its messages and usage rows.
func (r *Repo) DeleteSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&s, "id = ?", id).Error; err != nil {
			return err
		}
		_, err := deleteSessionRows(tx, []string{id})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSessions bulk-deletes sessions and returns how many sessions were removed.
// Unknown ids are ignored.
func (r *Repo) DeleteSessions(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		n, err = deleteSessionRows(tx, ids)
		return err
	})
	return n, err
}

func deleteSessionRows(tx *gorm.DB, ids []string) (int64, error) {
	if err := tx.Where("session_id IN ?", ids).Delete(&GuidelineUsage{}).Error; err != nil {
		return 0, err
	}
	if err := tx.Where("session_id IN ?", ids).Delete(&Message{}).Error; err != nil {
		return 0, err
	}
	res := tx.Where("id IN ?", ids).Delete(&Session{})
	return res.RowsAffected, res.Error
}

func (r *Repo) Statistics(ctx context.Context) (*Statistics, error) {
	var st Statistics
	db := r.db.WithContext(ctx)
	if err := db.Model(&Session{}).Count(&st.TotalSessions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Message{}).Count(&st.TotalMessages).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&GuidelineUsage{}).Count(&st.TotalGuidelineUsages).Error; err != nil {
		return nil, err
	}

	var created []time.Time
	if err := db.Model(&Session{}).Order("created_at DESC").Pluck("created_at", &created).Error; err != nil {
		return nil, err
	}
	st.SessionsByDate = bucketByDate(created, 30)
	return &st, nil
}

// bucketByDate counts timestamps per UTC day. Input is newest first and so is
// the output; at most maxDays buckets are kept.
func bucketByDate(ts []time.Time, maxDays int) []DateCount {
	out := make([]DateCount, 0, maxDays)
	for _, t := range ts {
		d := t.UTC().Format("2006-01-02")
		if n := len(out); n > 0 && out[n-1].Date == d {
			out[n-1].Count++
			continue
		}
		if len(out) == maxDays {
			break
		}
		out = append(out, DateCount{Date: d, Count: 1})
	}
	return out
}

// Messages

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessagesBySession returns the whole conversation in chronological order,
// with the guidelines that fired on each message.
func (r *Repo) ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Preload("GuidelineUsages.Guideline").
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessages returns the most recent messages newest -> oldest.
func (r *Repo) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 10
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// Guidelines

func (r *Repo) CreateGuideline(ctx context.Context, g *Guideline) error {
	if g.ID == "" {
		g.ID = NewID()
	}
	if err := r.db.WithContext(ctx).Create(g).Error; err != nil {
		return err
	}
	if r.catalog != nil {
		r.catalog.Flush()
	}
	return nil
}

func (r *Repo) CountGuidelines(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Guideline{}).Count(&n).Error
	return n, err
}

func (r *Repo) ListGuidelines(ctx context.Context) ([]Guideline, error) {
	var out []Guideline
	if err := r.db.WithContext(ctx).Order(guidelineOrder).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetGuideline(ctx context.Context, id string) (*Guideline, error) {
	var g Guideline
	if err := r.db.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// SearchGuidelines filters the catalogue. Triggers match when a guideline
// carries any of the requested triggers (case-insensitive).
func (r *Repo) SearchGuidelines(ctx context.Context, q GuidelineQuery) ([]Guideline, error) {
	tx := r.db.WithContext(ctx).Model(&Guideline{})
	if q.Strength != nil {
		tx = tx.Where("strength = ?", *q.Strength)
	}
	if q.PriorityMin != nil {
		tx = tx.Where("priority >= ?", *q.PriorityMin)
	}
	if q.PriorityMax != nil {
		tx = tx.Where("priority <= ?", *q.PriorityMax)
	}
	if q.Active != nil {
		tx = tx.Where("active = ?", *q.Active)
	}
	if q.SingleUse != nil {
		tx = tx.Where("single_use = ?", *q.SingleUse)
	}
	tx = tx.Order(guidelineOrder)
	// the trigger filter runs in memory, so the limit must wait for it
	if q.Limit > 0 && len(q.Triggers) == 0 {
		tx = tx.Limit(q.Limit)
	}

	var out []Guideline
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	if len(q.Triggers) > 0 {
		out = filterByTriggers(out, q.Triggers)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
	}
	return out, nil
}

func filterByTriggers(gs []Guideline, triggers []string) []Guideline {
	want := make(map[string]struct{}, len(triggers))
	for _, t := range triggers {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			want[t] = struct{}{}
		}
	}
	out := make([]Guideline, 0, len(gs))
	for _, g := range gs {
		for _, t := range g.Triggers {
			if _, ok := want[strings.ToLower(t)]; ok {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func (r *Repo) activeGuidelines(ctx context.Context, strength Strength) ([]Guideline, error) {
	key := "active:" + string(strength)
	if r.catalog != nil {
		if v, ok := r.catalog.Get(key); ok {
			return v.([]Guideline), nil
		}
	}
	var out []Guideline
	if err := r.db.WithContext(ctx).
		Where("strength = ? AND active = ?", strength, true).
		Order(guidelineOrder).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if r.catalog != nil {
		r.catalog.SetDefault(key, out)
	}
	return out, nil
}

// UsedGuidelineIDs lists the guidelines already applied in a session.
func (r *Repo) UsedGuidelineIDs(ctx context.Context, sessionID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&GuidelineUsage{}).
		Where("session_id = ?", sessionID).
		Pluck("guideline_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListUnusedGuidelines returns active guidelines of a strength that have not
// fired yet in the session, in catalogue order.
func (r *Repo) ListUnusedGuidelines(ctx context.Context, sessionID string, strength Strength) ([]Guideline, error) {
	used, err := r.UsedGuidelineIDs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	active, err := r.activeGuidelines(ctx, strength)
	if err != nil {
		return nil, err
	}

	usedSet := make(map[string]struct{}, len(used))
	for _, id := range used {
		usedSet[id] = struct{}{}
	}
	out := make([]Guideline, 0, len(active))
	for _, g := range active {
		if _, ok := usedSet[g.ID]; ok {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

// Guideline usage

// CreateUsage records a usage row. It reports false when the guideline was
// already recorded for the session (a concurrent turn won the race).
func (r *Repo) CreateUsage(ctx context.Context, u *GuidelineUsage) (bool, error) {
	if u.ID == "" {
		u.ID = NewID()
	}
	if u.UsedAt.IsZero() {
		u.UsedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(u)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) ListUsageBySession(ctx context.Context, sessionID string) ([]GuidelineUsage, error) {
	var out []GuidelineUsage
	if err := r.db.WithContext(ctx).
		Preload("Guideline").
		Preload("Message").
		Where("session_id = ?", sessionID).
		Order("used_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) ListUsageByMessage(ctx context.Context, messageID string) ([]GuidelineUsage, error) {
	var out []GuidelineUsage
	if err := r.db.WithContext(ctx).
		Preload("Guideline").
		Where("message_id = ?", messageID).
		Order("used_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetUsage(ctx context.Context, id string) (*GuidelineUsage, error) {
	var u GuidelineUsage
	if err := r.db.WithContext(ctx).
		Preload("Guideline").
		Preload("Message").
		First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Job CRUD

func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// UpdateJobStatusRunning claims a queued job. It reports false when the job
// was not queued, i.e. another delivery already claimed it.
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, result []byte) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"result": string(result),
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
			"result": nil,
		}).Error
}

func (r *Repo) GetJobByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	var job Job
	if err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if idempotency_key already
// exists it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByIdempotencyKey(ctx, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
