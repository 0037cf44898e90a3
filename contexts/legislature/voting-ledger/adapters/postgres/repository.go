package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
	"legisledger/contexts/legislature/voting-ledger/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists sessions, laws, votes and voters through gorm. It runs on
// Postgres in production and on SQLite for local runs and tests.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreateSession(ctx context.Context, session entities.Session) error {
	row := sessionModelFromEntity(session)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainerrors.ErrConflict
		}
		return r.logError("ledger_repo_create_session_failed", err, "session_id", row.ID)
	}
	return nil
}

func (r *Repository) LoadSession(ctx context.Context, sessionID string) (entities.Session, error) {
	var row sessionModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(sessionID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Session{}, domainerrors.ErrSessionNotFound
		}
		return entities.Session{}, r.logError("ledger_repo_load_session_failed", err, "session_id", strings.TrimSpace(sessionID))
	}
	var lawIDs []string
	if err := r.db.WithContext(ctx).
		Model(&lawModel{}).
		Where("session_id = ?", row.ID).
		Order("position ASC").
		Order("created_at ASC").
		Pluck("id", &lawIDs).Error; err != nil {
		return entities.Session{}, r.logError("ledger_repo_load_session_laws_failed", err, "session_id", row.ID)
	}
	if lawIDs == nil {
		lawIDs = []string{}
	}
	return row.toEntity(lawIDs), nil
}

func (r *Repository) SaveSession(ctx context.Context, session entities.Session) error {
	row := sessionModelFromEntity(session)
	result := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"title":             row.Title,
			"description":       row.Description,
			"date":              row.Date,
			"state":             row.State,
			"is_on_ledger":      row.IsOnLedger,
			"ledger_session_id": row.LedgerSessionID,
			"tx_ref":            row.TxRef,
			"quorum":            row.Quorum,
			"voting_type":       row.VotingType,
			"started_at":        row.StartedAt,
			"ended_at":          row.EndedAt,
		})
	if result.Error != nil {
		return r.logError("ledger_repo_save_session_failed", result.Error, "session_id", row.ID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(sessionID)).
		Delete(&sessionModel{})
	if result.Error != nil {
		return r.logError("ledger_repo_delete_session_failed", result.Error, "session_id", strings.TrimSpace(sessionID))
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrSessionNotFound
	}
	return nil
}

func (r *Repository) ListSessionsByState(ctx context.Context, state entities.SessionState) ([]entities.Session, error) {
	var rows []sessionModel
	if err := r.db.WithContext(ctx).
		Where("state = ?", string(state)).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_sessions_failed", err, "state", string(state))
	}
	items := make([]entities.Session, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(nil))
	}
	return items, nil
}

func (r *Repository) CreateLaw(ctx context.Context, law entities.Law) error {
	law.Version = 1
	row := lawModelFromEntity(law)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&sessionModel{}).Where("id = ?", row.SessionID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domainerrors.ErrSessionNotFound
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return upsertVotes(tx, lawVoteModelsFromEntity(law))
	})
	if err != nil {
		if domainerrors.KindOf(err) != domainerrors.KindUnknown {
			return err
		}
		if isUniqueViolation(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return domainerrors.ErrConflict
		}
		return r.logError("ledger_repo_create_law_failed", err, "law_id", row.ID, "session_id", row.SessionID)
	}
	return nil
}

func (r *Repository) LoadLaw(ctx context.Context, lawID string) (entities.Law, error) {
	var row lawModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(lawID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Law{}, domainerrors.ErrLawNotFound
		}
		return entities.Law{}, r.logError("ledger_repo_load_law_failed", err, "law_id", strings.TrimSpace(lawID))
	}
	votes, err := r.votesByLaw(ctx, []string{row.ID})
	if err != nil {
		return entities.Law{}, err
	}
	return row.toEntity(votes[row.ID]), nil
}

// SaveLaw writes the law and its vote records if the stored version still equals
// law.Version, and returns the incremented version.
func (r *Repository) SaveLaw(ctx context.Context, law entities.Law) (int64, error) {
	row := lawModelFromEntity(law)
	next := law.Version + 1
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&lawModel{}).
			Where("id = ? AND version = ?", row.ID, law.Version).
			Updates(map[string]any{
				"title":         row.Title,
				"description":   row.Description,
				"category":      row.Category,
				"state":         row.State,
				"is_on_ledger":  row.IsOnLedger,
				"ledger_law_id": row.LedgerLawID,
				"tx_ref":        row.TxRef,
				"favor":         row.Favor,
				"against":       row.Against,
				"abstain":       row.Abstain,
				"present":       row.Present,
				"absent":        row.Absent,
				"voting_at":     row.VotingAt,
				"approved_at":   row.ApprovedAt,
				"version":       next,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&lawModel{}).Where("id = ?", row.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domainerrors.ErrLawNotFound
			}
			return domainerrors.ErrStaleVersion
		}
		return upsertVotes(tx, lawVoteModelsFromEntity(law))
	})
	if err != nil {
		if domainerrors.KindOf(err) != domainerrors.KindUnknown {
			return 0, err
		}
		return 0, r.logError("ledger_repo_save_law_failed", err, "law_id", row.ID, "version", law.Version)
	}
	return next, nil
}

func (r *Repository) DeleteLaw(ctx context.Context, lawID string) error {
	lawID = strings.TrimSpace(lawID)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("law_id = ?", lawID).Delete(&lawVoteModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", lawID).Delete(&lawModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domainerrors.ErrLawNotFound
		}
		return nil
	})
	if err != nil {
		if domainerrors.KindOf(err) != domainerrors.KindUnknown {
			return err
		}
		return r.logError("ledger_repo_delete_law_failed", err, "law_id", lawID)
	}
	return nil
}

func (r *Repository) ListLawsBySession(ctx context.Context, sessionID string) ([]entities.Law, error) {
	var rows []lawModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", strings.TrimSpace(sessionID)).
		Order("position ASC").
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_laws_failed", err, "session_id", strings.TrimSpace(sessionID))
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	votes, err := r.votesByLaw(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]entities.Law, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity(votes[row.ID]))
	}
	return items, nil
}

func (r *Repository) votesByLaw(ctx context.Context, lawIDs []string) (map[string][]lawVoteModel, error) {
	out := make(map[string][]lawVoteModel, len(lawIDs))
	if len(lawIDs) == 0 {
		return out, nil
	}
	var rows []lawVoteModel
	if err := r.db.WithContext(ctx).
		Where("law_id IN ?", lawIDs).
		Order("ordinal ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_votes_failed", err, "laws", len(lawIDs))
	}
	for _, row := range rows {
		out[row.LawID] = append(out[row.LawID], row)
	}
	return out, nil
}

func upsertVotes(tx *gorm.DB, rows []lawVoteModel) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "law_id"}, {Name: "voter_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "cast_at", "tx_ref"}),
	}).Create(&rows).Error
}

func (r *Repository) LoadVoter(ctx context.Context, voterID string) (entities.Voter, error) {
	var row voterModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(voterID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Voter{}, domainerrors.ErrVoterNotFound
		}
		return entities.Voter{}, r.logError("ledger_repo_load_voter_failed", err, "voter_id", strings.TrimSpace(voterID))
	}
	return row.toEntity(), nil
}

func (r *Repository) SaveVoter(ctx context.Context, voter entities.Voter) error {
	row := voterModelFromEntity(voter)
	if row.ID == "" {
		return domainerrors.ErrValidation
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":          row.Name,
			"address":       row.Address,
			"is_registered": row.IsRegistered,
			"active":        row.Active,
			"updated_at":    row.UpdatedAt,
		}),
	}).Create(&row)
	if create.Error != nil {
		return r.logError("ledger_repo_save_voter_failed", create.Error, "voter_id", row.ID)
	}
	return nil
}

func (r *Repository) ListVoters(ctx context.Context) ([]entities.Voter, error) {
	var rows []voterModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_voters_failed", err)
	}
	items := make([]entities.Voter, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) CountRegisteredVoters(ctx context.Context) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&voterModel{}).
		Where("is_registered = ? AND active = ?", true, true).
		Count(&count).Error; err != nil {
		return 0, r.logError("ledger_repo_count_voters_failed", err)
	}
	return int(count), nil
}

// logError logs a failed query and returns it as a storage error.
func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "legislature/voting-ledger",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("ledger repository operation failed", fields...)
	return domainerrors.Storage(strings.TrimPrefix(event, "ledger_repo_"), err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// SQLite reports constraint failures only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ ports.SessionRepository = (*Repository)(nil)
var _ ports.LawRepository = (*Repository)(nil)
var _ ports.VoterRepository = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
var _ ports.EventDedupStore = (*Repository)(nil)
