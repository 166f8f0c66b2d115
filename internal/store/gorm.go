package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tuosm9390/minionsbid/internal/engine"
)

type roomRow struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name            string     `gorm:"size:255;not null"`
	TotalTeams      int        `gorm:"not null"`
	MembersPerTeam  int        `gorm:"not null"`
	BasePoint       int        `gorm:"not null"`
	CurrentPlayerID *uuid.UUID `gorm:"type:uuid"`
	TimerEndsAt     *time.Time `gorm:"index"`
	Round           int        `gorm:"not null;default:0"`
	Version         int64      `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (roomRow) TableName() string { return "rooms" }

type teamRow struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID            uuid.UUID `gorm:"type:uuid;index;not null"`
	Position          int       `gorm:"not null"`
	Name              string    `gorm:"size:255;not null"`
	LeaderName        string    `gorm:"size:255"`
	LeaderPosition    string    `gorm:"size:64"`
	LeaderDescription string
	PointBalance      int `gorm:"not null"`
}

func (teamRow) TableName() string { return "teams" }

type playerRow struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RoomID       uuid.UUID  `gorm:"type:uuid;index;not null"`
	Position     int        `gorm:"not null"`
	Name         string     `gorm:"size:255;not null"`
	Tier         string     `gorm:"size:64"`
	MainPosition string     `gorm:"size:64"`
	SubPosition  string     `gorm:"size:64"`
	Description  string
	Status       string     `gorm:"size:16;not null;index"`
	TeamID       *uuid.UUID `gorm:"type:uuid"`
	SoldPrice    *int
}

func (playerRow) TableName() string { return "players" }

type bidRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Seq       int       `gorm:"not null"`
	PlayerID  uuid.UUID `gorm:"type:uuid;index;not null"`
	TeamID    uuid.UUID `gorm:"type:uuid;not null"`
	Amount    int       `gorm:"not null"`
	CreatedAt time.Time
}

func (bidRow) TableName() string { return "bids" }

type messageRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;index;not null"`
	Kind      string    `gorm:"size:32"`
	Line      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (messageRow) TableName() string { return "messages" }

type archiveRow struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RoomID        uuid.UUID      `gorm:"type:uuid;index"`
	RoomName      string         `gorm:"size:255"`
	RoomCreatedAt time.Time
	ClosedAt      time.Time      `gorm:"index"`
	Teams         []ArchivedTeam `gorm:"serializer:json"`
}

func (archiveRow) TableName() string { return "auction_archives" }

// Gorm is the relational store, backed by postgres or sqlite.
type Gorm struct {
	db           *gorm.DB
	serializable bool
	log          *zap.Logger
}

// Open returns the store selected by cfg.Driver.
func Open(cfg Config, log *zap.Logger) (Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var (
		dialector    gorm.Dialector
		serializable bool
	)
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
		serializable = true
	case DriverSQLite:
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(log, cfg.SlowQuery)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// SQLite only supports one writer at a time.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	g := &Gorm{db: db, serializable: serializable, log: log}
	if cfg.AutoMigrate {
		if err := g.Migrate(context.Background()); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return g, nil
}

func (g *Gorm) Migrate(ctx context.Context) error {
	err := g.db.WithContext(ctx).AutoMigrate(
		&roomRow{}, &teamRow{}, &playerRow{}, &bidRow{}, &messageRow{}, &archiveRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) CreateRoom(ctx context.Context, s engine.State) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(toRoomRow(s.Room)).Error; err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		if len(s.Teams) > 0 {
			teams := make([]teamRow, len(s.Teams))
			for i, t := range s.Teams {
				teams[i] = toTeamRow(t, i)
			}
			if err := tx.Create(&teams).Error; err != nil {
				return fmt.Errorf("insert teams: %w", err)
			}
		}
		if len(s.Players) > 0 {
			players := make([]playerRow, len(s.Players))
			for i, p := range s.Players {
				players[i] = toPlayerRow(p, i)
			}
			if err := tx.CreateInBatches(&players, 200).Error; err != nil {
				return fmt.Errorf("insert players: %w", err)
			}
		}
		return nil
	})
}

func (g *Gorm) LoadRoom(ctx context.Context, id uuid.UUID) (engine.State, error) {
	db := g.db.WithContext(ctx)

	var room roomRow
	if err := db.First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.State{}, ErrNotFound
		}
		return engine.State{}, fmt.Errorf("load room: %w", err)
	}

	var (
		teams   []teamRow
		players []playerRow
		bids    []bidRow
	)
	if err := db.Where("room_id = ?", id).Order("position").Find(&teams).Error; err != nil {
		return engine.State{}, fmt.Errorf("load teams: %w", err)
	}
	if err := db.Where("room_id = ?", id).Order("position").Find(&players).Error; err != nil {
		return engine.State{}, fmt.Errorf("load players: %w", err)
	}
	if err := db.Where("room_id = ?", id).Order("seq").Find(&bids).Error; err != nil {
		return engine.State{}, fmt.Errorf("load bids: %w", err)
	}

	s := engine.State{Room: room.toRoom()}
	for _, t := range teams {
		s.Teams = append(s.Teams, t.toTeam())
	}
	for _, p := range players {
		s.Players = append(s.Players, p.toPlayer())
	}
	for _, b := range bids {
		s.Bids = append(s.Bids, b.toBid())
	}
	return s, nil
}

func (g *Gorm) Commit(ctx context.Context, prev, next engine.State) error {
	if err := checkCommit(prev, next); err != nil {
		return err
	}

	return g.inTx(ctx, func(tx *gorm.DB) error {
		r := next.Room
		res := tx.Model(&roomRow{}).
			Where("id = ? AND version = ?", r.ID, prev.Room.Version).
			Updates(map[string]any{
				"current_player_id": nullUUID(r.CurrentPlayerID),
				"timer_ends_at":     nullTime(r.TimerEndsAt),
				"round":             r.Round,
				"version":           r.Version,
			})
		if res.Error != nil {
			return fmt.Errorf("update room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}

		for _, i := range changedTeams(prev, next) {
			t := next.Teams[i]
			if err := tx.Model(&teamRow{}).Where("id = ?", t.ID).
				Update("point_balance", t.PointBalance).Error; err != nil {
				return fmt.Errorf("update team %s: %w", t.ID, err)
			}
		}

		for _, i := range changedPlayers(prev, next) {
			p := next.Players[i]
			if err := tx.Model(&playerRow{}).Where("id = ?", p.ID).Updates(map[string]any{
				"status":     string(p.Status),
				"team_id":    nullUUID(p.TeamID),
				"sold_price": nullInt(p.SoldPrice),
			}).Error; err != nil {
				return fmt.Errorf("update player %s: %w", p.ID, err)
			}
		}

		if len(next.Bids) > len(prev.Bids) {
			var rows []bidRow
			for i := len(prev.Bids); i < len(next.Bids); i++ {
				rows = append(rows, toBidRow(next.Bids[i], i))
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("insert bids: %w", err)
			}
		}
		return nil
	})
}

func (g *Gorm) ActiveRoomIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := g.db.WithContext(ctx).Model(&roomRow{}).
		Where("timer_ends_at IS NOT NULL").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	return ids, nil
}

func (g *Gorm) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&bidRow{}, &messageRow{}, &playerRow{}, &teamRow{}} {
			if err := tx.Where("room_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("delete room rows: %w", err)
			}
		}
		res := tx.Delete(&roomRow{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete room: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (g *Gorm) SaveArchive(ctx context.Context, a Archive) error {
	row := archiveRow{
		ID:            a.ID,
		RoomID:        a.RoomID,
		RoomName:      a.RoomName,
		RoomCreatedAt: a.RoomCreatedAt,
		ClosedAt:      a.ClosedAt,
		Teams:         a.Teams,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

func (g *Gorm) ListArchives(ctx context.Context, limit int) ([]Archive, error) {
	q := g.db.WithContext(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: "closed_at"}, Desc: true})
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []archiveRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	out := make([]Archive, 0, len(rows))
	for _, r := range rows {
		out = append(out, Archive{
			ID:            r.ID,
			RoomID:        r.RoomID,
			RoomName:      r.RoomName,
			RoomCreatedAt: r.RoomCreatedAt,
			ClosedAt:      r.ClosedAt,
			Teams:         r.Teams,
		})
	}
	return out, nil
}

func (g *Gorm) SaveMessage(ctx context.Context, m Message) error {
	row := messageRow{ID: m.ID, RoomID: m.RoomID, Kind: m.Kind, Line: m.Line, CreatedAt: m.CreatedAt}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (g *Gorm) Messages(ctx context.Context, roomID uuid.UUID, limit int) ([]Message, error) {
	q := g.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: true})
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]Message, len(rows))
	// Newest first from the query; callers read oldest first.
	for i, r := range rows {
		out[len(rows)-1-i] = Message{ID: r.ID, RoomID: r.RoomID, Kind: r.Kind, Line: r.Line, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

const maxTxAttempts = 5

// inTx runs fn in a transaction, retrying postgres serialization failures.
func (g *Gorm) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var opts []*sql.TxOptions
	if g.serializable {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	retryDelay := 25 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err := g.db.WithContext(ctx).Transaction(fn, opts...)
		if err == nil || !isSerializationError(err) || attempt == maxTxAttempts {
			return err
		}
		g.log.Debug("retrying serialization failure", zap.Int("attempt", attempt), zap.Error(err))
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func nullUUID(p *uuid.UUID) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func toRoomRow(r engine.Room) *roomRow {
	return &roomRow{
		ID:              r.ID,
		Name:            r.Name,
		TotalTeams:      r.TotalTeams,
		MembersPerTeam:  r.MembersPerTeam,
		BasePoint:       r.BasePoint,
		CurrentPlayerID: r.CurrentPlayerID,
		TimerEndsAt:     r.TimerEndsAt,
		Round:           r.Round,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
	}
}

func (r roomRow) toRoom() engine.Room {
	return engine.Room{
		ID:              r.ID,
		Name:            r.Name,
		TotalTeams:      r.TotalTeams,
		MembersPerTeam:  r.MembersPerTeam,
		BasePoint:       r.BasePoint,
		CurrentPlayerID: r.CurrentPlayerID,
		TimerEndsAt:     r.TimerEndsAt,
		Round:           r.Round,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
	}
}

func toTeamRow(t engine.Team, pos int) teamRow {
	return teamRow{
		ID:                t.ID,
		RoomID:            t.RoomID,
		Position:          pos,
		Name:              t.Name,
		LeaderName:        t.LeaderName,
		LeaderPosition:    t.LeaderPosition,
		LeaderDescription: t.LeaderDescription,
		PointBalance:      t.PointBalance,
	}
}

func (t teamRow) toTeam() engine.Team {
	return engine.Team{
		ID:                t.ID,
		RoomID:            t.RoomID,
		Name:              t.Name,
		LeaderName:        t.LeaderName,
		LeaderPosition:    t.LeaderPosition,
		LeaderDescription: t.LeaderDescription,
		PointBalance:      t.PointBalance,
	}
}

func toPlayerRow(p engine.Player, pos int) playerRow {
	return playerRow{
		ID:           p.ID,
		RoomID:       p.RoomID,
		Position:     pos,
		Name:         p.Name,
		Tier:         p.Tier,
		MainPosition: p.MainPosition,
		SubPosition:  p.SubPosition,
		Description:  p.Description,
		Status:       string(p.Status),
		TeamID:       p.TeamID,
		SoldPrice:    p.SoldPrice,
	}
}

func (p playerRow) toPlayer() engine.Player {
	return engine.Player{
		ID:           p.ID,
		RoomID:       p.RoomID,
		Name:         p.Name,
		Tier:         p.Tier,
		MainPosition: p.MainPosition,
		SubPosition:  p.SubPosition,
		Description:  p.Description,
		Status:       engine.Status(p.Status),
		TeamID:       p.TeamID,
		SoldPrice:    p.SoldPrice,
	}
}

func toBidRow(b engine.Bid, seq int) bidRow {
	return bidRow{
		ID:        b.ID,
		RoomID:    b.RoomID,
		Seq:       seq,
		PlayerID:  b.PlayerID,
		TeamID:    b.TeamID,
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt,
	}
}

func (b bidRow) toBid() engine.Bid {
	return engine.Bid{
		ID:        b.ID,
		RoomID:    b.RoomID,
		PlayerID:  b.PlayerID,
		TeamID:    b.TeamID,
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt,
	}
}
