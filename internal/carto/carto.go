// Package carto builds CartoDB SQL API requests for route layers.
package carto

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/model"
)

type RouteQuery struct {
	Table        string
	Scheme       string
	VehicleTypes []string
	ApprovedOnly bool
}

// DefaultRouteQuery selects approved GML routes for B-doubles and road trains.
func DefaultRouteQuery(account string) RouteQuery {
	return RouteQuery{
		Table:        fmt.Sprintf("%q.ds_hml_rav_routes", account),
		Scheme:       "GML",
		VehicleTypes: []string{"19m B-double", "23m B-double", "25m B-double", "Road Train"},
		ApprovedOnly: true,
	}
}

var safeTable = regexp.MustCompile(`^("[\w-]+"\.)?[\w]+$`)

// SQL renders the query; literal values are single-quote escaped.
func (q RouteQuery) SQL() (string, error) {
	if !safeTable.MatchString(q.Table) {
		return "", fmt.Errorf("invalid table name %q", q.Table)
	}
	var conds []string
	if q.Scheme != "" {
		conds = append(conds, "scheme = "+quote(q.Scheme))
	}
	if len(q.VehicleTypes) > 0 {
		vals := make([]string, 0, len(q.VehicleTypes))
		for _, v := range q.VehicleTypes {
			vals = append(vals, quote(v))
		}
		conds = append(conds, "vehicle_type IN ("+strings.Join(vals, ", ")+")")
	}
	if q.ApprovedOnly {
		conds = append(conds, "is_approved = 'Y'")
	}
	sql := "SELECT * FROM " + q.Table
	if len(conds) > 0 {
		sql += " WHERE " + strings.Join(conds, " AND ")
	}
	return sql, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQLEndpoint is the account's SQL API base.
func SQLEndpoint(account string) (string, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return "", errors.New("carto account is required")
	}
	return "https://" + account + ".carto.com/api/v1/sql", nil
}

// BuildSQLRequest asks the SQL API for GeoJSON output.
func BuildSQLRequest(endpoint, sql, apiKey string) model.FetchRequest {
	if apiKey == "" {
		apiKey = "default_public"
	}
	return model.FetchRequest{
		EndpointBase: endpoint,
		Params: []model.Param{
			{Key: "q", Value: sql},
			{Key: "format", Value: "geojson"},
			{Key: "api_key", Value: apiKey},
		},
	}
}
