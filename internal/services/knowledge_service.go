package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ana-joker/FULLSTUDY/internal/models"
	"github.com/ana-joker/FULLSTUDY/internal/repositories"
	"github.com/ana-joker/FULLSTUDY/internal/validator"
)

const (
	knowledgeContextHeader = "# Personal Knowledge Base Context\n" +
		"The user has activated the following personal knowledge bases. This information is real, personal to the user, and has the highest priority for grounding your response.\n---\n"

	// blobLoadConcurrency bounds parallel blob reads while building context.
	blobLoadConcurrency = 4
)

type knowledgeService struct {
	repo      repositories.Repository
	validator *validator.Validator
	logger    *ServiceLogger
	now       func() time.Time

	mu sync.Mutex
}

func NewKnowledgeService(repo repositories.Repository, validator *validator.Validator, logger *slog.Logger) KnowledgeService {
	return &knowledgeService{
		repo:      repo,
		validator: validator,
		logger:    NewServiceLogger(logger, LogConfig{Service: "knowledge", Component: "bases"}),
		now:       time.Now,
	}
}

func (s *knowledgeService) loadBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	bases, err := s.repo.Knowledge().LoadBases(ctx)
	if err != nil {
		return nil, persistenceError("load", repositories.KeyKnowledge, err)
	}
	return bases, nil
}

func (s *knowledgeService) saveBases(ctx context.Context, bases []models.KnowledgeBase) error {
	if err := s.repo.Knowledge().SaveBases(ctx, bases); err != nil {
		return persistenceError("save", repositories.KeyKnowledge, err)
	}
	return nil
}

func baseIndex(bases []models.KnowledgeBase, id string) int {
	return slices.IndexFunc(bases, func(b models.KnowledgeBase) bool { return b.ID == id })
}

// ===== BASES =====

func (s *knowledgeService) CreateBase(ctx context.Context, name, description string) (*models.KnowledgeBase, error) {
	op := s.logger.WithOperation(ctx, "create_knowledge_base")

	base := models.KnowledgeBase{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Items:       []models.KnowledgeItem{},
		CreatedAt:   s.now(),
	}
	if err := s.validator.Validate(&base); err != nil {
		op.LogResult("", "knowledge_base", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bases, err := s.loadBases(ctx)
	if err != nil {
		op.LogResult(base.ID, "knowledge_base", err)
		return nil, err
	}
	bases = append(bases, base)
	err = s.saveBases(ctx, bases)
	op.LogResult(base.ID, "knowledge_base", err)
	if err != nil {
		return nil, err
	}
	return &base, nil
}

func (s *knowledgeService) UpdateBase(ctx context.Context, id, name, description string) (*models.KnowledgeBase, error) {
	op := s.logger.WithOperation(ctx, "update_knowledge_base")

	s.mu.Lock()
	defer s.mu.Unlock()

	bases, err := s.loadBases(ctx)
	if err != nil {
		op.LogResult(id, "knowledge_base", err)
		return nil, err
	}
	idx := baseIndex(bases, id)
	if idx < 0 {
		op.LogResult(id, "knowledge_base", ErrKnowledgeNotFound)
		return nil, ErrKnowledgeNotFound
	}

	updated := bases[idx]
	updated.Name = strings.TrimSpace(name)
	updated.Description = strings.TrimSpace(description)
	if err := s.validator.Validate(&updated); err != nil {
		op.LogResult(id, "knowledge_base", err)
		return nil, err
	}
	bases[idx] = updated
	err = s.saveBases(ctx, bases)
	op.LogResult(id, "knowledge_base", err)
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteBase removes the base, its blobs and its id from the active set.
func (s *knowledgeService) DeleteBase(ctx context.Context, id string) error {
	op := s.logger.WithOperation(ctx, "delete_knowledge_base")

	s.mu.Lock()
	defer s.mu.Unlock()

	bases, err := s.loadBases(ctx)
	if err != nil {
		op.LogResult(id, "knowledge_base", err)
		return err
	}
	idx := baseIndex(bases, id)
	if idx < 0 {
		op.LogResult(id, "knowledge_base", ErrKnowledgeNotFound)
		return ErrKnowledgeNotFound
	}

	for _, item := range bases[idx].Items {
		if err := s.repo.Blobs().Delete(ctx, item.ID); err != nil && !repositories.IsNotFoundError(err) {
			s.logger.Logger().Warn("Failed to delete knowledge item content", "item_id", item.ID, "error", err)
		}
	}
	bases = slices.Delete(bases, idx, idx+1)
	if err := s.saveBases(ctx, bases); err != nil {
		op.LogResult(id, "knowledge_base", err)
		return err
	}

	active, err := s.repo.Knowledge().LoadActive(ctx)
	if err == nil && slices.Contains(active, id) {
		active = slices.DeleteFunc(active, func(a string) bool { return a == id })
		err = s.repo.Knowledge().SaveActive(ctx, active)
	}
	if err != nil {
		err = persistenceError("save", repositories.KeyActiveKnowledge, err)
	}
	op.LogResult(id, "knowledge_base", err)
	return err
}

func (s *knowledgeService) ListBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadBases(ctx)
}

// ===== ITEMS =====

func (s *knowledgeService) AddItem(ctx context.Context, baseID string, input *models.KnowledgeItemInput) (*models.KnowledgeItem, error) {
	op := s.logger.WithOperation(ctx, "add_knowledge_item")

	if err := s.validator.Validate(input); err != nil {
		op.LogResult(baseID, "knowledge_item", err)
		return nil, err
	}

	item := models.KnowledgeItem{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(input.Description),
		Type:        models.KnowledgeItemFile,
		FileName:    input.FileName,
		FileType:    input.FileType,
		CreatedAt:   s.now(),
	}
	content := input.Content
	if strings.HasPrefix(input.FileType, "image/") {
		item.Type = models.KnowledgeItemImage
		prepared, err := prepareImage(&models.Attachment{Name: input.FileName, MimeType: input.FileType, Data: input.Content})
		if err != nil {
			err = newValidationErrors("content", err.Error(), input.FileName)
			op.LogResult(baseID, "knowledge_item", err)
			return nil, err
		}
		content = prepared.Data
		item.FileType = prepared.MimeType
	}
	item.Size = int64(len(content))

	s.mu.Lock()
	defer s.mu.Unlock()

	bases, err := s.loadBases(ctx)
	if err != nil {
		op.LogResult(baseID, "knowledge_item", err)
		return nil, err
	}
	idx := baseIndex(bases, baseID)
	if idx < 0 {
		op.LogResult(baseID, "knowledge_item", ErrKnowledgeNotFound)
		return nil, ErrKnowledgeNotFound
	}

	if _, err := s.repo.Blobs().Put(ctx, item.ID, content); err != nil {
		err = persistenceError("put", item.ID, err)
		op.LogResult(item.ID, "knowledge_item", err)
		return nil, err
	}
	bases[idx].Items = append(bases[idx].Items, item)
	err = s.saveBases(ctx, bases)
	op.LogResult(item.ID, "knowledge_item", err)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *knowledgeService) RemoveItem(ctx context.Context, baseID, itemID string) error {
	op := s.logger.WithOperation(ctx, "remove_knowledge_item")

	s.mu.Lock()
	defer s.mu.Unlock()

	bases, err := s.loadBases(ctx)
	if err != nil {
		op.LogResult(itemID, "knowledge_item", err)
		return err
	}
	idx := baseIndex(bases, baseID)
	if idx < 0 {
		op.LogResult(itemID, "knowledge_item", ErrKnowledgeNotFound)
		return ErrKnowledgeNotFound
	}
	items := bases[idx].Items
	itemIdx := slices.IndexFunc(items, func(it models.KnowledgeItem) bool { return it.ID == itemID })
	if itemIdx < 0 {
		op.LogResult(itemID, "knowledge_item", ErrKnowledgeItemAbsent)
		return ErrKnowledgeItemAbsent
	}

	bases[idx].Items = slices.Delete(items, itemIdx, itemIdx+1)
	if err := s.saveBases(ctx, bases); err != nil {
		op.LogResult(itemID, "knowledge_item", err)
		return err
	}
	if err := s.repo.Blobs().Delete(ctx, itemID); err != nil && !repositories.IsNotFoundError(err) {
		s.logger.Logger().Warn("Failed to delete knowledge item content", "item_id", itemID, "error", err)
	}
	op.LogResult(itemID, "knowledge_item", nil)
	return nil
}

// ===== ACTIVE SET & CONTEXT =====

// SetActive replaces the active set. Unknown ids are rejected.
func (s *knowledgeService) SetActive(ctx context.Context, ids []string) error {
	op := s.logger.WithOperation(ctx, "set_active_knowledge")

	s.mu.Lock()
	defer s.mu.Unlock()

	bases, err := s.loadBases(ctx)
	if err != nil {
		op.LogResult("", "knowledge_base", err)
		return err
	}
	active := make([]string, 0, len(ids))
	for _, id := range ids {
		if baseIndex(bases, id) < 0 {
			err := fmt.Errorf("%w: %s", ErrKnowledgeNotFound, id)
			op.LogResult(id, "knowledge_base", err)
			return err
		}
		if !slices.Contains(active, id) {
			active = append(active, id)
		}
	}
	if err := s.repo.Knowledge().SaveActive(ctx, active); err != nil {
		err = persistenceError("save", repositories.KeyActiveKnowledge, err)
		op.LogResult("", "knowledge_base", err)
		return err
	}
	op.LogResult(strings.Join(active, ","), "knowledge_base", nil)
	return nil
}

// ActiveBases returns active bases in activation order. Ids of deleted bases
// are skipped.
func (s *knowledgeService) ActiveBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeBases(ctx)
}

func (s *knowledgeService) activeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	ids, err := s.repo.Knowledge().LoadActive(ctx)
	if err != nil {
		return nil, persistenceError("load", repositories.KeyActiveKnowledge, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	bases, err := s.loadBases(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]models.KnowledgeBase, 0, len(ids))
	for _, id := range ids {
		if idx := baseIndex(bases, id); idx >= 0 {
			active = append(active, bases[idx])
		}
	}
	return active, nil
}

func (s *knowledgeService) ContextParts(ctx context.Context) ([]models.Part, error) {
	s.mu.Lock()
	active, err := s.activeBases(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	var items []models.KnowledgeItem
	for _, base := range active {
		items = append(items, base.Items...)
	}
	contents, err := s.loadContents(ctx, items)
	if err != nil {
		return nil, err
	}

	var prompt strings.Builder
	prompt.WriteString(knowledgeContextHeader)
	var images []models.Part

	n := 0
	for _, base := range active {
		fmt.Fprintf(&prompt, "## Knowledge Base: \"%s\"\n**Description:** %s\n\n", base.Name, base.Description)
		for _, item := range base.Items {
			content := contents[n]
			n++
			if content == nil {
				continue
			}
			fmt.Fprintf(&prompt, "### Item: %s\nFilename: %s\n", item.Description, item.FileName)
			switch item.Type {
			case models.KnowledgeItemImage:
				fmt.Fprintf(&prompt, "Content: [Image data is attached separately for file: %s]\n\n", item.FileName)
				images = append(images, models.InlinePart(item.FileType, base64.StdEncoding.EncodeToString(content)))
			default:
				fmt.Fprintf(&prompt, "Content:\n%s\n\n", content)
			}
		}
		prompt.WriteString("---\n")
	}

	return append([]models.Part{models.TextPart(prompt.String())}, images...), nil
}

// loadContents reads blobs concurrently. contents[i] belongs to items[i] and
// is nil when the blob is missing or corrupt.
func (s *knowledgeService) loadContents(ctx context.Context, items []models.KnowledgeItem) ([][]byte, error) {
	contents := make([][]byte, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobLoadConcurrency)

	for i, item := range items {
		g.Go(func() error {
			data, err := s.repo.Blobs().Get(gctx, item.ID)
			switch {
			case err == nil:
				contents[i] = data
			case repositories.IsNotFoundError(err), errors.Is(err, repositories.ErrBlobCorrupt):
				s.logger.Logger().Warn("Knowledge item content unavailable, skipping",
					"item_id", item.ID,
					"file_name", item.FileName,
					"error", err)
			default:
				return persistenceError("get", item.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return contents, nil
}
