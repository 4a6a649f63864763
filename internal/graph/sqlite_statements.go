package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// sqliteStatement applies one row of an upsert template.
type sqliteStatement func(w *sqliteWriter, row map[string]any) error

var sqliteStatements = map[StatementID]sqliteStatement{
	StatementUpsertReasons:   upsertReference(LabelReason),
	StatementUpsertCarriers:  upsertReference(LabelCarrier),
	StatementUpsertLocations: upsertLocation,
	StatementUpsertFlights:   upsertFlight,
}

func upsertReference(label string) sqliteStatement {
	return func(w *sqliteWriter, row map[string]any) error {
		code := stringProp(row, "code")
		if _, err := w.mergeNode(label, code); err != nil {
			return err
		}
		if err := w.replaceNodeProps(label, code, row); err != nil {
			return err
		}
		w.counters.Upserted++
		return nil
	}
}

func upsertLocation(w *sqliteWriter, row map[string]any) error {
	country := mapProp(row, "country")
	city := mapProp(row, "city")
	state := mapProp(row, "state")
	airport := mapProp(row, "airport")

	countryName := stringProp(country, "name")
	if err := w.mergeNodeWith(LabelCountry, countryName, country); err != nil {
		return err
	}

	cityName := stringProp(city, "name")
	if err := w.mergeNodeWith(LabelCity, cityName, city); err != nil {
		return err
	}
	if _, err := w.mergeRelationship(RelInCountry, LabelCity, cityName, LabelCountry, countryName); err != nil {
		return err
	}

	if stateName := stringProp(state, "name"); stateName != "" {
		if err := w.mergeNodeWith(LabelState, stateName, state); err != nil {
			return err
		}
		if _, err := w.mergeRelationship(RelInCountry, LabelState, stateName, LabelCountry, countryName); err != nil {
			return err
		}
		if _, err := w.mergeRelationship(RelInState, LabelCity, cityName, LabelState, stateName); err != nil {
			return err
		}
	}

	airportID := stringProp(airport, "airportId")
	if err := w.mergeNodeWith(LabelAirport, airportID, airport); err != nil {
		return err
	}
	if _, err := w.mergeRelationship(RelInCity, LabelAirport, airportID, LabelCity, cityName); err != nil {
		return err
	}

	w.counters.Upserted++
	return nil
}

func upsertFlight(w *sqliteWriter, row map[string]any) error {
	origin := stringProp(row, "origin")
	destination := stringProp(row, "destination")

	for _, id := range []string{origin, destination} {
		ok, err := w.nodeExists(LabelAirport, id)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	key := stringProp(row, "flightKey")
	if _, err := w.mergeNode(LabelFlight, key); err != nil {
		return err
	}
	if err := w.setNodeProps(LabelFlight, key, map[string]any{
		"flightNumber":     row["flightNumber"],
		"carrier":          row["carrier"],
		"year":             row["year"],
		"month":            row["month"],
		"day":              row["dayOfMonth"],
		"weekday":          row["dayOfWeek"],
		"cancellationCode": row["cancellationCode"],
	}); err != nil {
		return err
	}

	if err := w.mergeRelationshipWith(RelOrigin, LabelFlight, key, LabelAirport, origin, map[string]any{
		"taxiTime":       row["taxiOut"],
		"departureDelay": row["departureDelay"],
	}); err != nil {
		return err
	}
	if err := w.mergeRelationshipWith(RelDestination, LabelFlight, key, LabelAirport, destination, map[string]any{
		"taxiTime":     row["taxiIn"],
		"arrivalDelay": row["arrivalDelay"],
	}); err != nil {
		return err
	}

	if err := w.linkIfExists(RelCarrier, LabelFlight, key, LabelCarrier, stringProp(row, "carrier")); err != nil {
		return err
	}
	if err := w.linkIfExists(RelCancelledBy, LabelFlight, key, LabelReason, stringProp(row, "cancellationCode")); err != nil {
		return err
	}

	for _, delay := range listProp(row, "delays") {
		code := stringProp(delay, "reasonCode")
		ok, err := w.nodeExists(LabelReason, code)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := w.mergeRelationshipWith(RelDelayedBy, LabelFlight, key, LabelReason, code, map[string]any{
			"duration": delay["duration"],
		}); err != nil {
			return err
		}
	}

	if tail := stringProp(row, "tailNumber"); tail != "" {
		if _, err := w.mergeNode(LabelAircraft, tail); err != nil {
			return err
		}
		if _, err := w.mergeRelationship(RelAircraft, LabelFlight, key, LabelAircraft, tail); err != nil {
			return err
		}
	}

	w.counters.Upserted++
	return nil
}

// sqliteWriter carries one transaction and its running counters.
type sqliteWriter struct {
	ctx      context.Context
	tx       *sql.Tx
	now      time.Time
	counters Counters
}

// mergeNode creates the node if it is missing. New nodes carry their merge
// key as a property.
func (w *sqliteWriter) mergeNode(label, key string) (bool, error) {
	props, err := json.Marshal(map[string]any{KeyProperty(label): key})
	if err != nil {
		return false, fmt.Errorf("marshaling properties: %w", err)
	}
	res, err := w.tx.ExecContext(w.ctx, `
		INSERT INTO nodes (label, node_key, properties, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (label, node_key) DO NOTHING
	`, label, key, string(props), w.now, w.now)
	if err != nil {
		return false, fmt.Errorf("merging %s node: %w", label, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		w.counters.NodesCreated++
		w.counters.PropertiesSet++
		return true, nil
	}
	return false, nil
}

// mergeNodeWith merges the node and replaces its properties with props.
func (w *sqliteWriter) mergeNodeWith(label, key string, props map[string]any) error {
	if _, err := w.mergeNode(label, key); err != nil {
		return err
	}
	return w.replaceNodeProps(label, key, props)
}

func (w *sqliteWriter) nodeExists(label, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var one int
	err := w.tx.QueryRowContext(w.ctx,
		`SELECT 1 FROM nodes WHERE label = ? AND node_key = ?`, label, key,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("matching %s node: %w", label, err)
	}
	return true, nil
}

// replaceNodeProps overwrites every property, dropping null values.
func (w *sqliteWriter) replaceNodeProps(label, key string, props map[string]any) error {
	next := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			next[k] = v
		}
	}
	return w.writeNodeProps(label, key, next, len(next))
}

// setNodeProps updates the given properties, removing those set to null.
func (w *sqliteWriter) setNodeProps(label, key string, props map[string]any) error {
	var raw string
	err := w.tx.QueryRowContext(w.ctx,
		`SELECT properties FROM nodes WHERE label = ? AND node_key = ?`, label, key,
	).Scan(&raw)
	if err != nil {
		return fmt.Errorf("loading %s node: %w", label, err)
	}
	current, err := decodeProps(raw)
	if err != nil {
		return err
	}
	return w.writeNodeProps(label, key, mergeProps(current, props), len(props))
}

func (w *sqliteWriter) writeNodeProps(label, key string, props map[string]any, set int) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("marshaling properties: %w", err)
	}
	if _, err := w.tx.ExecContext(w.ctx, `
		UPDATE nodes SET properties = ?, modified_at = ?
		WHERE label = ? AND node_key = ?
	`, string(data), w.now, label, key); err != nil {
		return fmt.Errorf("updating %s node: %w", label, err)
	}
	w.counters.PropertiesSet += set
	return nil
}

func (w *sqliteWriter) mergeRelationship(relType, sourceLabel, sourceKey, targetLabel, targetKey string) (bool, error) {
	res, err := w.tx.ExecContext(w.ctx, `
		INSERT INTO relationships (type, source_label, source_key, target_label, target_key, properties, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, '{}', ?, ?)
		ON CONFLICT (type, source_label, source_key, target_label, target_key) DO NOTHING
	`, relType, sourceLabel, sourceKey, targetLabel, targetKey, w.now, w.now)
	if err != nil {
		return false, fmt.Errorf("merging %s relationship: %w", relType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		w.counters.RelationshipsCreated++
		return true, nil
	}
	return false, nil
}

// mergeRelationshipWith merges the relationship and updates props on it.
func (w *sqliteWriter) mergeRelationshipWith(relType, sourceLabel, sourceKey, targetLabel, targetKey string, props map[string]any) error {
	if _, err := w.mergeRelationship(relType, sourceLabel, sourceKey, targetLabel, targetKey); err != nil {
		return err
	}

	var raw string
	err := w.tx.QueryRowContext(w.ctx, `
		SELECT properties FROM relationships
		WHERE type = ? AND source_label = ? AND source_key = ? AND target_label = ? AND target_key = ?
	`, relType, sourceLabel, sourceKey, targetLabel, targetKey).Scan(&raw)
	if err != nil {
		return fmt.Errorf("loading %s relationship: %w", relType, err)
	}
	current, err := decodeProps(raw)
	if err != nil {
		return err
	}

	data, err := json.Marshal(mergeProps(current, props))
	if err != nil {
		return fmt.Errorf("marshaling properties: %w", err)
	}
	if _, err := w.tx.ExecContext(w.ctx, `
		UPDATE relationships SET properties = ?, modified_at = ?
		WHERE type = ? AND source_label = ? AND source_key = ? AND target_label = ? AND target_key = ?
	`, string(data), w.now, relType, sourceLabel, sourceKey, targetLabel, targetKey); err != nil {
		return fmt.Errorf("updating %s relationship: %w", relType, err)
	}
	w.counters.PropertiesSet += len(props)
	return nil
}

// linkIfExists merges the relationship only when the target node exists.
func (w *sqliteWriter) linkIfExists(relType, sourceLabel, sourceKey, targetLabel, targetKey string) error {
	ok, err := w.nodeExists(targetLabel, targetKey)
	if err != nil || !ok {
		return err
	}
	_, err = w.mergeRelationship(relType, sourceLabel, sourceKey, targetLabel, targetKey)
	return err
}

func mergeProps(current, updates map[string]any) map[string]any {
	if current == nil {
		current = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		if v == nil {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return current
}

func stringProp(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func mapProp(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func listProp(m map[string]any, key string) []map[string]any {
	switch v := m[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if entry, ok := item.(map[string]any); ok {
				out = append(out, entry)
			}
		}
		return out
	default:
		return nil
	}
}
