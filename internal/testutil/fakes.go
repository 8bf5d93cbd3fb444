// Package testutil holds in-memory repository fakes shared by service tests.
package testutil

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
)

// TxManager runs transactions in memory and counts their outcomes
type TxManager struct {
	mu        sync.Mutex
	BeginErr  error
	Begins    int
	Commits   int
	Rollbacks int
}

type tx struct {
	ctx context.Context
	mgr *TxManager
}

func (m *TxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	m.Begins++
	return &tx{ctx: ctx, mgr: m}, nil
}

func (m *TxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	t, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(t.Context(), t); err != nil {
		_ = t.Rollback()
		return err
	}
	return t.Commit()
}

func (t *tx) Commit() error {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	t.mgr.Commits++
	return nil
}

func (t *tx) Rollback() error {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	t.mgr.Rollbacks++
	return nil
}

func (t *tx) Context() context.Context { return t.ctx }

// Recorder captures activity entries synchronously
type Recorder struct {
	mu   sync.Mutex
	Logs []*models.ActivityLog
}

func (r *Recorder) Record(log *models.ActivityLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Logs = append(r.Logs, log)
}

// Actions lists the recorded actions in order
func (r *Recorder) Actions() []models.ActivityAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ActivityAction, 0, len(r.Logs))
	for _, l := range r.Logs {
		out = append(out, l.Action)
	}
	return out
}

// Ledger is an in-memory DocumentRepository and DecisionRepository
type Ledger struct {
	mu        sync.Mutex
	docs      map[string]map[string]models.ContextDocument
	chunks    map[string]map[string]models.ContextChunk
	decisions map[string]*models.Decision
	nextID    int64
	now       func() time.Time

	// Err, when set, is returned by every call
	Err error
	// LastFilter is the most recent Query filter
	LastFilter models.DecisionFilter
}

// NewLedger creates an empty ledger store
func NewLedger() *Ledger {
	return &Ledger{
		docs:      make(map[string]map[string]models.ContextDocument),
		chunks:    make(map[string]map[string]models.ContextChunk),
		decisions: make(map[string]*models.Decision),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock fixes the timestamps assigned on upsert
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// AddDocument registers a document and its chunks for a tenant
func (l *Ledger) AddDocument(tenant, docID string, chunkIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.docs[tenant] == nil {
		l.docs[tenant] = make(map[string]models.ContextDocument)
		l.chunks[tenant] = make(map[string]models.ContextChunk)
	}
	l.docs[tenant][docID] = models.ContextDocument{DocID: docID, SourceURI: "gs://corpus/" + docID, UpdatedAt: l.now()}
	for i, c := range chunkIDs {
		l.chunks[tenant][c] = models.ContextChunk{ChunkID: c, DocID: docID, ChunkIndex: i, Preview: "chunk " + c}
	}
}

// Decision returns the stored decision, or nil
func (l *Ledger) Decision(tenant, decisionID string) *models.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.decisions[tenant+"/"+decisionID]
}

func (l *Ledger) ExistingDocIDs(_ context.Context, tenant string, docIDs []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var out []string
	for _, id := range docIDs {
		if _, ok := l.docs[tenant][id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (l *Ledger) ChunkOwners(_ context.Context, tenant string, chunkIDs []string) ([]models.ChunkOwner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var out []models.ChunkOwner
	for _, id := range chunkIDs {
		if c, ok := l.chunks[tenant][id]; ok {
			out = append(out, models.ChunkOwner{ChunkID: id, DocID: c.DocID})
		}
	}
	return out, nil
}

func (l *Ledger) Upsert(_ context.Context, decision *models.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	now := l.now()
	key := decision.Tenant + "/" + decision.DecisionID
	if prev, ok := l.decisions[key]; ok {
		decision.ID = prev.ID
		decision.CreatedAt = prev.CreatedAt
	} else {
		l.nextID++
		decision.ID = l.nextID
		decision.CreatedAt = now
	}
	decision.UpdatedAt = now
	stored := *decision
	l.decisions[key] = &stored
	return nil
}

func (l *Ledger) ReplaceContextDocs(_ context.Context, refID int64, tenant string, docIDs []string) error {
	return l.replace(refID, tenant, func(d *models.Decision) { d.ContextDocs = append([]string{}, docIDs...) })
}

func (l *Ledger) ReplaceContextChunks(_ context.Context, refID int64, tenant string, chunkIDs []string) error {
	return l.replace(refID, tenant, func(d *models.Decision) { d.ContextChunks = append([]string{}, chunkIDs...) })
}

func (l *Ledger) replace(refID int64, tenant string, set func(*models.Decision)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	for _, d := range l.decisions {
		if d.ID == refID && d.Tenant == tenant {
			set(d)
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (l *Ledger) GetByDecisionID(_ context.Context, tenant, decisionID string) (*models.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	d, ok := l.decisions[tenant+"/"+decisionID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *d
	return &out, nil
}

// Query supports the tenant, id, prefix, model, output and context filters
func (l *Ledger) Query(_ context.Context, filter models.DecisionFilter) ([]*models.Decision, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LastFilter = filter
	if l.Err != nil {
		return nil, 0, l.Err
	}

	var matched []*models.Decision
	for _, d := range l.decisions {
		if matches(d, filter) {
			out := *d
			matched = append(matched, &out)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if filter.Order == models.SortOrderAsc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if filter.Order == models.SortOrderAsc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	return matched[start:end], total, nil
}

func matches(d *models.Decision, f models.DecisionFilter) bool {
	if !contains(f.Tenants, d.Tenant) {
		return false
	}
	if f.DecisionIDPrefix != "" && !strings.HasPrefix(d.DecisionID, f.DecisionIDPrefix) {
		return false
	}
	if len(f.DecisionIDs) > 0 && !contains(f.DecisionIDs, d.DecisionID) {
		return false
	}
	if f.Model != "" && d.Model != f.Model {
		return false
	}
	if len(f.Outputs) > 0 && !contains(f.Outputs, d.Output) {
		return false
	}
	for _, doc := range f.ContextDocs {
		if !contains(d.ContextDocs, doc) {
			return false
		}
	}
	for _, chunk := range f.ContextChunks {
		if !contains(d.ContextChunks, chunk) {
			return false
		}
	}
	return true
}

func (l *Ledger) GetContext(_ context.Context, tenant string, refID int64) (*models.DecisionContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	out := &models.DecisionContext{Documents: []models.ContextDocument{}, Chunks: []models.ContextChunk{}}
	for _, d := range l.decisions {
		if d.ID != refID || d.Tenant != tenant {
			continue
		}
		for _, id := range d.ContextDocs {
			out.Documents = append(out.Documents, l.docs[tenant][id])
		}
		for _, id := range d.ContextChunks {
			out.Chunks = append(out.Chunks, l.chunks[tenant][id])
		}
	}
	return out, nil
}

// Catalog is an in-memory ArtifactRepository, RetentionPolicyRepository and
// LegalHoldRepository
type Catalog struct {
	mu        sync.Mutex
	artifacts []*models.Artifact
	policies  map[string]*models.RetentionPolicy
	holds     []*models.LegalHold
	nextID    int64

	// InsertErr fails InsertBatch
	InsertErr error
	// MarkErr fails MarkDeleted for the listed artifact ids
	MarkErr map[string]error
	// Marks lists every MarkDeleted call
	Marks []repositories.DeletionMark
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{policies: make(map[string]*models.RetentionPolicy)}
}

// Artifacts returns a snapshot of every row, including deleted ones
func (c *Catalog) Artifacts() []*models.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Artifact, len(c.artifacts))
	copy(out, c.artifacts)
	return out
}

func (c *Catalog) InsertBatch(_ context.Context, artifacts []*models.Artifact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InsertErr != nil {
		return c.InsertErr
	}
	for _, a := range artifacts {
		if c.find(a.Tenant, a.ArtifactType, a.GSURI) != nil {
			continue
		}
		c.nextID++
		row := *a
		row.ID = c.nextID
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now().UTC()
		}
		c.artifacts = append(c.artifacts, &row)
	}
	return nil
}

func (c *Catalog) find(tenant string, typ models.ArtifactType, uri string) *models.Artifact {
	for _, a := range c.artifacts {
		if a.Tenant == tenant && a.ArtifactType == typ && a.GSURI == uri {
			return a
		}
	}
	return nil
}

func (c *Catalog) GetByURI(_ context.Context, tenant, gsURI string) (*models.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.artifacts) - 1; i >= 0; i-- {
		a := c.artifacts[i]
		if a.Tenant == tenant && a.GSURI == gsURI && a.DeletedAt == nil {
			out := *a
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (c *Catalog) ListRetentionCandidates(_ context.Context, filter repositories.CandidateFilter) ([]*models.RetentionCandidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var live []*models.Artifact
	for _, a := range c.artifacts {
		if a.DeletedAt != nil {
			continue
		}
		if filter.Tenant != "" && a.Tenant != filter.Tenant {
			continue
		}
		if filter.ArtifactType != "" && a.ArtifactType != filter.ArtifactType {
			continue
		}
		live = append(live, a)
	}
	sort.SliceStable(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	if filter.Limit > 0 && len(live) > filter.Limit {
		live = live[:filter.Limit]
	}
	out := make([]*models.RetentionCandidate, 0, len(live))
	for _, a := range live {
		cand := &models.RetentionCandidate{Artifact: *a}
		if p, ok := c.policies[a.Tenant+"/"+string(a.ArtifactType)]; ok {
			policy := *p
			cand.Policy = &policy
		}
		out = append(out, cand)
	}
	return out, nil
}

func (c *Catalog) MarkDeleted(_ context.Context, mark repositories.DeletionMark) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Marks = append(c.Marks, mark)
	if err := c.MarkErr[mark.ArtifactID]; err != nil {
		return false, err
	}
	for _, a := range c.artifacts {
		if a.ArtifactID == mark.ArtifactID && a.Tenant == mark.Tenant && a.GSURI == mark.GSURI && a.DeletedAt == nil {
			now := time.Now().UTC()
			a.DeletedAt = &now
			a.DeletedBy = &mark.DeletedBy
			a.DeletionReason = &mark.DeletionReason
			a.DeleteJobID = &mark.DeleteJobID
			return true, nil
		}
	}
	return false, nil
}

func (c *Catalog) Upsert(_ context.Context, policy *models.RetentionPolicy) (*models.RetentionPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := policy.Tenant + "/" + string(policy.ArtifactType)
	now := time.Now().UTC()
	stored := *policy
	if prev, ok := c.policies[key]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	c.policies[key] = &stored
	out := stored
	return &out, nil
}

func (c *Catalog) List(_ context.Context, tenant string) ([]*models.RetentionPolicy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*models.RetentionPolicy
	for _, p := range c.policies {
		if tenant == "" || p.Tenant == tenant {
			policy := *p
			out = append(out, &policy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant != out[j].Tenant {
			return out[i].Tenant < out[j].Tenant
		}
		return out[i].ArtifactType < out[j].ArtifactType
	})
	return out, nil
}

// Holds adapts the catalog to LegalHoldRepository, whose List signature
// differs from the policy repository's
func (c *Catalog) Holds() repositories.LegalHoldRepository {
	return holdRepo{c}
}

type holdRepo struct{ c *Catalog }

func (h holdRepo) Create(_ context.Context, hold *models.LegalHold) (*models.LegalHold, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	for _, existing := range h.c.holds {
		if existing.HoldID == hold.HoldID {
			return nil, errors.New("duplicate hold id")
		}
	}
	stored := *hold
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	h.c.holds = append(h.c.holds, &stored)
	out := stored
	return &out, nil
}

func (h holdRepo) Release(_ context.Context, holdID string) (*models.LegalHold, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	for _, hold := range h.c.holds {
		if hold.HoldID == holdID {
			if hold.ReleasedAt == nil {
				now := time.Now().UTC()
				hold.ReleasedAt = &now
			}
			out := *hold
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (h holdRepo) List(_ context.Context, tenant string, activeOnly bool) ([]*models.LegalHold, error) {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	var out []*models.LegalHold
	for i := len(h.c.holds) - 1; i >= 0; i-- {
		hold := h.c.holds[i]
		if tenant != "" && hold.Tenant != tenant {
			continue
		}
		if activeOnly && !hold.IsActive() {
			continue
		}
		copied := *hold
		out = append(out, &copied)
	}
	return out, nil
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
