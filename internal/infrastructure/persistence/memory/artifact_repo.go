package memory

import (
	"context"
	"fmt"
	"sort"

	"manuscript-ai-api/internal/domain/entity"
	"manuscript-ai-api/internal/domain/repository"
)

// VoiceProfileRepository 内存文风档案仓储
type VoiceProfileRepository struct{ s *Store }

func NewVoiceProfileRepository(s *Store) *VoiceProfileRepository {
	return &VoiceProfileRepository{s: s}
}

var _ repository.VoiceProfileRepository = (*VoiceProfileRepository)(nil)

func cloneProfile(p *entity.VoiceProfile) *entity.VoiceProfile {
	cp := cloneJSON(p)
	cp.ReferenceEmbedding = cloneVec(p.ReferenceEmbedding)
	return cp
}

func (r *VoiceProfileRepository) GetCurrent(ctx context.Context, projectID string) (*entity.VoiceProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	list := r.s.profiles[projectID]
	if len(list) == 0 {
		return nil, nil
	}
	return cloneProfile(list[len(list)-1]), nil
}

func (r *VoiceProfileRepository) Save(ctx context.Context, p *entity.VoiceProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.profiles[p.ProjectID]
	if n := len(list); n > 0 && list[n-1].Version >= p.Version {
		return fmt.Errorf("voice profile version %d is not newer than %d", p.Version, list[n-1].Version)
	}
	r.s.profiles[p.ProjectID] = append(list, cloneProfile(p))
	return nil
}

// OutlineRepository 内存大纲仓储
type OutlineRepository struct{ s *Store }

func NewOutlineRepository(s *Store) *OutlineRepository { return &OutlineRepository{s: s} }

var _ repository.OutlineRepository = (*OutlineRepository)(nil)

func (r *OutlineRepository) Create(ctx context.Context, o *entity.BookOutline) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.outlines[o.ID] = cloneJSON(o)
	return nil
}

func (r *OutlineRepository) GetByID(ctx context.Context, id string) (*entity.BookOutline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return cloneJSON(r.s.outlines[id]), nil
}

func (r *OutlineRepository) UpdateStatus(ctx context.Context, o *entity.BookOutline) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.outlines[o.ID]
	if !ok {
		return fmt.Errorf("outline %s not found", o.ID)
	}
	cur.Status = o.Status
	cur.FeedbackNotes = o.FeedbackNotes
	cur.UpdatedAt = o.UpdatedAt
	return nil
}

func (r *OutlineRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.BookOutline, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.BookOutline
	for _, o := range r.s.outlines {
		if o.TaskID == taskID {
			out = append(out, cloneJSON(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ChapterRepository 内存章节仓储
type ChapterRepository struct{ s *Store }

func NewChapterRepository(s *Store) *ChapterRepository { return &ChapterRepository{s: s} }

var _ repository.ChapterRepository = (*ChapterRepository)(nil)

func (r *ChapterRepository) Create(ctx context.Context, ch *entity.Chapter) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *ch
	r.s.chapters[ch.ID] = &cp
	return nil
}

func (r *ChapterRepository) GetByID(ctx context.Context, id string) (*entity.Chapter, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ch, ok := r.s.chapters[id]
	if !ok {
		return nil, nil
	}
	cp := *ch
	return &cp, nil
}

func (r *ChapterRepository) Update(ctx context.Context, ch *entity.Chapter) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.chapters[ch.ID]; !ok {
		return fmt.Errorf("chapter %s not found", ch.ID)
	}
	cp := *ch
	r.s.chapters[ch.ID] = &cp
	return nil
}

func (r *ChapterRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.Chapter, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.Chapter
	for _, ch := range r.s.chapters {
		if ch.TaskID == taskID {
			cp := *ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r *ChapterRepository) AppendRevision(ctx context.Context, ch *entity.Chapter, rev *entity.ChapterRevision) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.chapters[ch.ID]
	if !ok {
		return fmt.Errorf("chapter %s not found", ch.ID)
	}
	if rev.Seq != cur.RevisionCount+1 {
		return fmt.Errorf("revision seq %d out of order, stored count %d", rev.Seq, cur.RevisionCount)
	}
	r.s.revisions[rev.ID] = cloneJSON(rev)
	cp := *ch
	r.s.chapters[ch.ID] = &cp
	return nil
}

func (r *ChapterRepository) GetRevision(ctx context.Context, id string) (*entity.ChapterRevision, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return cloneJSON(r.s.revisions[id]), nil
}

func (r *ChapterRepository) ListRevisions(ctx context.Context, chapterID string) ([]*entity.ChapterRevision, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.ChapterRevision
	for _, rev := range r.s.revisions {
		if rev.ChapterID == chapterID {
			out = append(out, cloneJSON(rev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// ManuscriptRepository 内存定稿仓储
type ManuscriptRepository struct{ s *Store }

func NewManuscriptRepository(s *Store) *ManuscriptRepository { return &ManuscriptRepository{s: s} }

var _ repository.ManuscriptRepository = (*ManuscriptRepository)(nil)

func (r *ManuscriptRepository) Create(ctx context.Context, m *entity.Manuscript) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.manuscripts[m.TaskID] = cloneJSON(m)
	return nil
}

func (r *ManuscriptRepository) GetByTask(ctx context.Context, taskID string) (*entity.Manuscript, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return cloneJSON(r.s.manuscripts[taskID]), nil
}
