package gtfsdb

import (
	"database/sql"
)

type System struct {
	Pk       int64
	ID       string
	Name     string
	Timezone string
}

type Feed struct {
	Pk                   int64
	ID                   string
	SystemPk             int64
	Parser               string
	Url                  string
	Path                 string
	Headers              string
	HttpTimeoutMs        sql.NullInt64
	PeriodMs             sql.NullInt64
	Gzip                 bool
	TransfersConfig      string
	ExtensionFieldNumber sql.NullInt64
	Timezone             string
}

type FeedUpdate struct {
	Pk            int64
	FeedPk        int64
	UpdateID      string
	Status        string
	Result        sql.NullString
	ContentHash   sql.NullString
	ContentLength sql.NullInt64
	ErrorMessage  sql.NullString
	StartedAt     int64
	EndedAt       sql.NullInt64
}

type Stop struct {
	Pk                 int64
	ID                 string
	SystemPk           int64
	SourcePk           int64
	ParentStopPk       sql.NullInt64
	Name               string
	Latitude           float64
	Longitude          float64
	Type               string
	Code               string
	Description        string
	Url                string
	Timezone           string
	PlatformCode       string
	WheelchairBoarding sql.NullBool
}

type Route struct {
	Pk          int64
	ID          string
	SystemPk    int64
	SourcePk    int64
	AgencyPk    sql.NullInt64
	ShortName   string
	LongName    string
	Description string
	Color       string
	TextColor   string
	Url         string
	SortOrder   sql.NullInt64
	Type        int64
}

type Shape struct {
	Pk       int64
	ID       string
	SystemPk int64
	SourcePk int64
	Polyline string
}

type Alert struct {
	Pk        int64
	ID        string
	SystemPk  int64
	SourcePk  int64
	Cause     string
	Effect    string
	CreatedAt sql.NullInt64
	UpdatedAt sql.NullInt64
	SortOrder sql.NullInt64
}

type AlertMessage struct {
	Pk          int64
	AlertPk     int64
	Header      string
	Description string
	Url         string
	Language    sql.NullString
}

type TransfersConfig struct {
	Pk       int64
	Distance float64
}

type Transfer struct {
	Pk              int64
	SystemPk        int64
	SourcePk        sql.NullInt64
	ConfigSourcePk  sql.NullInt64
	FromStopPk      int64
	ToStopPk        int64
	Type            string
	MinTransferTime sql.NullInt64
	Distance        sql.NullFloat64
}
