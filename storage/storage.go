package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telegram-pairing-bot/pairing"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrRoundExists = errors.New("round already recorded for this period")
)

type Storage struct {
	db *gorm.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Error().Err(err).Str("path", dbPath).Msg("storage: Failed to connect to database")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) migrate() error {
	err := s.db.AutoMigrate(&Group{}, &Participant{}, &Round{}, &RoundPair{})
	if err != nil {
		log.Error().Err(err).Msg("storage: Failed to migrate database")
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// Close releases the database handle
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

// ensureGroup creates the group on first use and keeps its title fresh
func ensureGroup(tx *gorm.DB, chatID int64, title string) error {
	group := Group{ChatID: chatID}
	if err := tx.Where(&Group{ChatID: chatID}).Attrs(Group{Title: title}).FirstOrCreate(&group).Error; err != nil {
		return err
	}
	if title != "" && group.Title != title {
		return tx.Model(&group).Update("title", title).Error
	}
	return nil
}

// JoinGroup adds a user to the pairings of a chat or reactivates them
func (s *Storage) JoinGroup(ctx context.Context, chatID int64, title string, user UserProfile, at time.Time) (JoinResult, error) {
	var result JoinResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureGroup(tx, chatID, title); err != nil {
			return err
		}

		var p Participant
		err := tx.Where("group_id = ? AND user_id = ?", chatID, user.ID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = Joined
			return tx.Create(&Participant{
				GroupID:   chatID,
				UserID:    user.ID,
				Username:  user.Username,
				FirstName: user.FirstName,
				LastName:  user.LastName,
				Status:    StatusActive,
				JoinedAt:  at,
			}).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]any{
			"username":   user.Username,
			"first_name": user.FirstName,
			"last_name":  user.LastName,
		}
		if p.Active() {
			result = AlreadyActive
		} else {
			result = Rejoined
			updates["status"] = StatusActive
			updates["joined_at"] = at
			updates["left_at"] = nil
		}
		return tx.Model(&p).Updates(updates).Error
	})
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Int64("user_id", user.ID).
			Msg("storage: Failed to join group")
		return 0, fmt.Errorf("failed to join group: %w", err)
	}

	return result, nil
}

// LeaveGroup marks a participant as left. The participant row is kept.
func (s *Storage) LeaveGroup(ctx context.Context, chatID int64, title string, userID int64, at time.Time) (LeaveResult, error) {
	result := NotMember

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureGroup(tx, chatID, title); err != nil {
			return err
		}

		var p Participant
		err := tx.Where("group_id = ? AND user_id = ?", chatID, userID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !p.Active() {
			return nil
		}

		result = Left
		return tx.Model(&p).Updates(map[string]any{
			"status":  StatusLeft,
			"left_at": at,
		}).Error
	})
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Int64("user_id", userID).
			Msg("storage: Failed to leave group")
		return 0, fmt.Errorf("failed to leave group: %w", err)
	}

	return result, nil
}

// GetGroup retrieves a group by chat ID
func (s *Storage) GetGroup(ctx context.Context, chatID int64) (*Group, error) {
	var group Group
	err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("storage: Failed to get group")
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// GetGroupIDs retrieves chat IDs of all known groups
func (s *Storage) GetGroupIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&Group{}).Order("chat_id").Pluck("chat_id", &ids).Error
	if err != nil {
		log.Error().Err(err).Msg("storage: Failed to get groups")
		return nil, fmt.Errorf("failed to get groups: %w", err)
	}
	return ids, nil
}

// GetParticipants retrieves every participant of a group, including those who left
func (s *Storage) GetParticipants(ctx context.Context, chatID int64) ([]Participant, error) {
	var participants []Participant
	err := s.db.WithContext(ctx).Where("group_id = ?", chatID).Order("joined_at, id").Find(&participants).Error
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("storage: Failed to get participants")
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	return participants, nil
}

// GetActiveParticipants retrieves the roster of a group
func (s *Storage) GetActiveParticipants(ctx context.Context, chatID int64) ([]Participant, error) {
	var participants []Participant
	err := s.db.WithContext(ctx).Where("group_id = ? AND status = ?", chatID, StatusActive).
		Order("joined_at, id").Find(&participants).Error
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("storage: Failed to get active participants")
		return nil, fmt.Errorf("failed to get active participants: %w", err)
	}
	return participants, nil
}

// GetParticipant retrieves a single participant of a group
func (s *Storage) GetParticipant(ctx context.Context, chatID, userID int64) (*Participant, error) {
	var p Participant
	err := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", chatID, userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Int64("user_id", userID).
			Msg("storage: Failed to get participant")
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return &p, nil
}

// GetRound retrieves the round of a group for a period
func (s *Storage) GetRound(ctx context.Context, chatID int64, period string) (*Round, error) {
	var round Round
	err := s.db.WithContext(ctx).Preload("Pairs").
		Where("group_id = ? AND period = ?", chatID, period).First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Str("period", period).
			Msg("storage: Failed to get round")
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return &round, nil
}

// GetLatestRound retrieves the most recent round of a group
func (s *Storage) GetLatestRound(ctx context.Context, chatID int64) (*Round, error) {
	var round Round
	err := s.db.WithContext(ctx).Preload("Pairs").
		Where("group_id = ?", chatID).Order("created_at DESC, id DESC").First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("storage: Failed to get latest round")
		return nil, fmt.Errorf("failed to get latest round: %w", err)
	}
	return &round, nil
}

// SaveRound records a computed round and moves every placed participant's
// last partner to it, all in one transaction.
func (s *Storage) SaveRound(ctx context.Context, chatID int64, period string, computed pairing.Round, at time.Time) (*Round, error) {
	round := Round{
		GroupID:   chatID,
		Period:    period,
		CreatedAt: at,
		Pairs:     make([]RoundPair, 0, len(computed.Pairs)),
	}
	for _, p := range computed.Pairs {
		round.Pairs = append(round.Pairs, RoundPair{FirstUserID: p.First.UserID, SecondUserID: p.Second.UserID})
	}
	if computed.Unpaired != nil {
		id := computed.Unpaired.UserID
		round.UnpairedUserID = &id
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Round{}).Where("group_id = ? AND period = ?", chatID, period).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrRoundExists
		}

		if err := tx.Create(&round).Error; err != nil {
			return err
		}

		for _, p := range computed.Pairs {
			if err := setLastPartner(tx, chatID, p.First.UserID, &p.Second.UserID, at); err != nil {
				return err
			}
			if err := setLastPartner(tx, chatID, p.Second.UserID, &p.First.UserID, at); err != nil {
				return err
			}
		}
		if computed.Unpaired != nil {
			return setLastPartner(tx, chatID, computed.Unpaired.UserID, nil, at)
		}
		return nil
	})
	if errors.Is(err, ErrRoundExists) {
		return nil, ErrRoundExists
	}
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Str("period", period).
			Msg("storage: Failed to save round")
		return nil, fmt.Errorf("failed to save round: %w", err)
	}

	return &round, nil
}

func setLastPartner(tx *gorm.DB, chatID, userID int64, partnerID *int64, at time.Time) error {
	return tx.Model(&Participant{}).
		Where("group_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]any{
			"last_partner_id": partnerID,
			"last_unpaired":   partnerID == nil,
			"last_round_at":   at,
		}).Error
}

// MarkAnnounced records that a round was posted to its chat
func (s *Storage) MarkAnnounced(ctx context.Context, roundID uint, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Round{}).Where("id = ?", roundID).Update("announced_at", at).Error
	if err != nil {
		log.Error().Err(err).Uint("round_id", roundID).Msg("storage: Failed to mark round announced")
		return fmt.Errorf("failed to mark round announced: %w", err)
	}
	return nil
}
