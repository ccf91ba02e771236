package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/samber/oops"
	"github.com/uptrace/bun"

	"github.com/tutorhub/lessons-api/internal/database"
)

var ErrPackageNotFound = errors.New("package not found")

// Package is a purchasable bundle of lesson credits
type Package struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	LessonCount int    `json:"lessonCount"`
	PriceCents  int64  `json:"priceCents"`
	Currency    string `json:"currency"`
}

// Repository reads the package catalog
type Repository struct {
	db bun.IDB
}

func NewRepository(db bun.IDB) *Repository {
	return &Repository{db: db}
}

// ListActive returns the packages on sale, cheapest first
func (r *Repository) ListActive(ctx context.Context) ([]Package, error) {
	var rows []database.Package
	err := r.db.NewSelect().
		Model(&rows).
		Where("active = ?", true).
		Order("price_cents ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, oops.Code("CATALOG_LIST_FAILED").Wrap(err)
	}

	packages := make([]Package, 0, len(rows))
	for i := range rows {
		packages = append(packages, mapDBPackage(&rows[i]))
	}
	return packages, nil
}

// GetActive returns a package that is on sale
func (r *Repository) GetActive(ctx context.Context, id int64) (*Package, error) {
	row := new(database.Package)
	err := r.db.NewSelect().
		Model(row).
		Where("id = ?", id).
		Where("active = ?", true).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, oops.Code("CATALOG_GET_FAILED").With("package_id", id).Wrap(err)
	}

	pkg := mapDBPackage(row)
	return &pkg, nil
}

func mapDBPackage(row *database.Package) Package {
	return Package{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		LessonCount: row.LessonCount,
		PriceCents:  row.PriceCents,
		Currency:    row.Currency,
	}
}
