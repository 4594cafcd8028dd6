package workforce

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/attendly/backend/pkg/db/models"
)

// StaffRow is a staff record joined with its position and projected user.
type StaffRow struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PhoneNo      *string    `json:"phone_no,omitempty"`
	PositionID   uuid.UUID  `json:"position_id"`
	PositionName string     `json:"position_name"`
	FileID       *uuid.UUID `json:"file_id,omitempty"`
}

// StaffRepository exposes staff persistence for the workforce service.
type StaffRepository struct {
	db *gorm.DB
}

func NewStaffRepository(db *gorm.DB) *StaffRepository {
	return &StaffRepository{db: db}
}

// CreateTx inserts a staff record inside the caller's transaction.
func (r *StaffRepository) CreateTx(tx *gorm.DB, staff *models.Staff) error {
	if staff.ID == uuid.Nil {
		staff.ID = uuid.New()
	}
	return tx.Create(staff).Error
}

// FindAll lists staff joined with positions and projected users, optionally
// filtered by a keyword against staff name, position name or email.
func (r *StaffRepository) FindAll(ctx context.Context, keyword string) ([]StaffRow, error) {
	query := r.db.WithContext(ctx).
		Table("staffs").
		Select(`staffs.id, staffs.user_id, staffs.name, user_refs.email,
			staffs.phone_no, staffs.position_id, positions.name AS position_name, staffs.file_id`).
		Joins("JOIN positions ON positions.id = staffs.position_id").
		Joins("LEFT JOIN user_refs ON user_refs.id = staffs.user_id").
		Order("staffs.name ASC")

	if trimmed := strings.TrimSpace(keyword); trimmed != "" {
		pattern := "%" + strings.ToLower(trimmed) + "%"
		query = query.Where(
			"LOWER(staffs.name) LIKE ? OR LOWER(positions.name) LIKE ? OR LOWER(user_refs.email) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	var rows []StaffRow
	err := query.Scan(&rows).Error
	return rows, err
}

// FindByUserID loads the staff record owned by the given user.
func (r *StaffRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Staff, error) {
	var staff models.Staff
	if err := r.db.WithContext(ctx).First(&staff, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &staff, nil
}

// FindByID loads a staff record by primary key.
func (r *StaffRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Staff, error) {
	var staff models.Staff
	if err := r.db.WithContext(ctx).First(&staff, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &staff, nil
}

// FindByIDTx loads a staff record inside the caller's transaction.
func (r *StaffRepository) FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Staff, error) {
	var staff models.Staff
	if err := tx.First(&staff, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &staff, nil
}

// SaveTx persists an updated staff record inside the caller's transaction.
func (r *StaffRepository) SaveTx(tx *gorm.DB, staff *models.Staff) error {
	return tx.Save(staff).Error
}

// DeleteTx removes a staff record inside the caller's transaction.
func (r *StaffRepository) DeleteTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Where("id = ?", id).Delete(&models.Staff{}).Error
}

// PositionRepository exposes position lookups.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindAll lists positions, optionally filtered by a keyword.
func (r *PositionRepository) FindAll(ctx context.Context, keyword string) ([]models.Position, error) {
	query := r.db.WithContext(ctx).Order("name ASC")
	if trimmed := strings.TrimSpace(keyword); trimmed != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(trimmed)+"%")
	}
	var positions []models.Position
	err := query.Find(&positions).Error
	return positions, err
}

// FindByID loads one position.
func (r *PositionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Position, error) {
	var position models.Position
	if err := r.db.WithContext(ctx).First(&position, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &position, nil
}

// FileRepository stores uploaded staff profile photos.
type FileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Save persists an uploaded blob and returns its id.
func (r *FileRepository) Save(ctx context.Context, file *models.StaffFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(file).Error
}

// FindByID loads one stored file.
func (r *FileRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.StaffFile, error) {
	var file models.StaffFile
	if err := r.db.WithContext(ctx).First(&file, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &file, nil
}
