package repository

import (
	"context"
	"errors"

	"github.com/timmy/safetrip/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CountryRepository stores the latest advisory data per country.
type CountryRepository struct {
	db *gorm.DB
}

// NewCountryRepository creates a new CountryRepository.
func NewCountryRepository(db *gorm.DB) *CountryRepository {
	return &CountryRepository{db: db}
}

// ReplaceCountryData writes one refresh result in a single transaction:
// upsert the country row, delete its alerts, insert the new alerts and
// upsert background info when present. Running it twice with the same
// input leaves the same state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - data: country identity, alerts and optional background.
// Returns:
//   - error: non-nil if any write fails; nothing is committed in that case.
func (r *CountryRepository) ReplaceCountryData(ctx context.Context, data *domain.CountryData) error {
	const op = "ReplaceCountryData"
	name := data.Country.Name
	if name == "" {
		return domain.Ef(domain.KindInvalid, op, "country name is empty")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		country := data.Country
		country.Alerts = nil
		country.Background = nil
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "flag_url", "last_updated"}),
		}).Create(&country).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}

		if err := tx.Where("country_name = ?", name).Delete(&domain.Alert{}).Error; err != nil {
			return domain.E(domain.KindFatal, op, err)
		}

		if len(data.Alerts) > 0 {
			alerts := make([]domain.Alert, len(data.Alerts))
			for i, a := range data.Alerts {
				a.ID = 0
				a.CountryName = name
				alerts[i] = a
			}
			if err := tx.Create(&alerts).Error; err != nil {
				return domain.E(domain.KindFatal, op, err)
			}
		}

		if data.Background != nil {
			bg := *data.Background
			bg.CountryName = name
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "country_name"}},
				UpdateAll: true,
			}).Create(&bg).Error; err != nil {
				return domain.E(domain.KindFatal, op, err)
			}
		}
		return nil
	})
}

// GetByName loads a country with its alerts (most severe first) and background.
// Returns ErrCountryNotFound when the country was never refreshed.
func (r *CountryRepository) GetByName(ctx context.Context, name string) (*domain.Country, error) {
	var country domain.Country
	err := r.db.WithContext(ctx).
		Preload("Alerts", func(db *gorm.DB) *gorm.DB {
			return db.Order(severityRankSQL).Order("id")
		}).
		Preload("Background").
		First(&country, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.E(domain.KindNotFound, "GetByName", domain.ErrCountryNotFound)
		}
		return nil, domain.E(domain.KindFatal, "GetByName", err)
	}
	return &country, nil
}

// severityRankSQL orders alerts high to info.
const severityRankSQL = "CASE severity WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END"

var rankToSeverity = map[int]domain.Severity{
	1: domain.SeverityHigh,
	2: domain.SeverityMedium,
	3: domain.SeverityLow,
	4: domain.SeverityInfo,
}

// ListSummaries returns one row per stored country with its alert count and
// highest severity, ordered by name.
func (r *CountryRepository) ListSummaries(ctx context.Context) ([]domain.CountrySummary, error) {
	var rows []struct {
		domain.CountrySummary
		SeverityRank *int
	}
	err := r.db.WithContext(ctx).
		Table("countries").
		Select("countries.name, countries.code, countries.last_updated, " +
			"COUNT(alerts.id) AS alert_count, MIN(" + qualifiedRankSQL + ") AS severity_rank").
		Joins("LEFT JOIN alerts ON alerts.country_name = countries.name").
		Group("countries.name, countries.code, countries.last_updated").
		Order("countries.name").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.E(domain.KindFatal, "ListSummaries", err)
	}

	out := make([]domain.CountrySummary, len(rows))
	for i, row := range rows {
		out[i] = row.CountrySummary
		if row.SeverityRank != nil {
			out[i].HighestSeverity = rankToSeverity[*row.SeverityRank]
		}
	}
	return out, nil
}

const qualifiedRankSQL = "CASE alerts.severity WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 WHEN 'info' THEN 4 END"
