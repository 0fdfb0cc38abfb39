package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Severity ranks an alert. Values are SeverityHigh, SeverityMedium, SeverityLow and SeverityInfo.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

// SeverityFromLevel maps a 1-4 advisory level onto a severity.
func SeverityFromLevel(level int) Severity {
	switch {
	case level >= 4:
		return SeverityHigh
	case level == 3:
		return SeverityMedium
	case level == 2:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// StringArray stores a string slice as a JSON text column.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface.
func (a *StringArray) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = StringArray{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan StringArray")
	}
	return json.Unmarshal(raw, a)
}

// Country is the identity row of a country with its latest data.
type Country struct {
	Name        string          `gorm:"type:text;primaryKey" json:"name"`
	Code        string          `gorm:"type:text" json:"code"`
	FlagURL     string          `gorm:"type:text" json:"flag_url"`
	LastUpdated time.Time       `json:"last_updated"`
	Alerts      []Alert         `gorm:"foreignKey:CountryName;references:Name" json:"alerts"`
	Background  *BackgroundInfo `gorm:"foreignKey:CountryName;references:Name" json:"background,omitempty"`
}

func (Country) TableName() string {
	return "countries"
}

// Alert is one advisory item from one source. Alerts of a country are
// replaced as a set on every refresh.
type Alert struct {
	ID                    uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	CountryName           string      `gorm:"type:text;not null;index:idx_alerts_country" json:"country_name"`
	Source                string      `gorm:"type:text;not null" json:"source"`
	Title                 string      `gorm:"type:text" json:"title"`
	Severity              Severity    `gorm:"type:text;not null" json:"severity"`
	Level                 string      `gorm:"type:text" json:"level,omitempty"`
	Summary               string      `gorm:"type:text" json:"summary"`
	Link                  string      `gorm:"type:text" json:"link,omitempty"`
	PublishedAt           *time.Time  `json:"published_at,omitempty"`
	KeyRisks              StringArray `gorm:"type:text" json:"key_risks"`
	SafetyRecommendations StringArray `gorm:"type:text" json:"safety_recommendations"`
	SpecificAreas         StringArray `gorm:"type:text" json:"specific_areas"`
	AIEnhancedAt          *time.Time  `json:"ai_enhanced_at,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
}

func (Alert) TableName() string {
	return "alerts"
}

// BackgroundInfo holds general facts about a country.
type BackgroundInfo struct {
	CountryName  string      `gorm:"type:text;primaryKey" json:"-"`
	Capital      string      `gorm:"type:text" json:"capital,omitempty"`
	Population   int64       `json:"population,omitempty"`
	Currency     string      `gorm:"type:text" json:"currency,omitempty"`
	Languages    StringArray `gorm:"type:text" json:"languages"`
	Religion     string      `gorm:"type:text" json:"religion,omitempty"`
	GDPPerCapita float64     `json:"gdp_per_capita,omitempty"`
	Link         string      `gorm:"type:text" json:"link,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (BackgroundInfo) TableName() string {
	return "country_background"
}

// CountryData is everything one refresh produces for a country.
type CountryData struct {
	Country    Country
	Alerts     []Alert
	Background *BackgroundInfo
}

// CountrySummary is a list row for the query layer.
type CountrySummary struct {
	Name            string    `json:"name"`
	Code            string    `json:"code"`
	LastUpdated     time.Time `json:"last_updated"`
	AlertCount      int64     `json:"alert_count"`
	HighestSeverity Severity  `json:"highest_severity,omitempty"`
}
