package postgres

// SQL for the event ledger (processed_events) and the counters row (system_stats).
// Timestamps are stored as UTC without a zone.

const (
	// queryInsertEvent relies on UNIQUE (topic, event_id) to reject duplicates.
	// No ON CONFLICT clause: the unique violation switches Process onto the
	// duplicate path.
	queryInsertEvent = `
		INSERT INTO processed_events (topic, event_id, timestamp, source, payload)
		VALUES ($1, $2, $3, $4, $5)
	`

	// queryCountUnique runs in the same transaction as queryInsertEvent.
	// topics_count is recomputed from the ledger rather than incremented.
	// The upsert recreates the counters row if it was removed.
	queryCountUnique = `
		INSERT INTO system_stats AS s
			(id, received_count, unique_processed_count, duplicate_dropped_count, topics_count, last_updated)
		VALUES
			(1, 1, 1, 0, (SELECT COUNT(DISTINCT topic) FROM processed_events), NOW() AT TIME ZONE 'UTC')
		ON CONFLICT (id) DO UPDATE SET
			received_count         = s.received_count + 1,
			unique_processed_count = s.unique_processed_count + 1,
			topics_count           = EXCLUDED.topics_count,
			last_updated           = EXCLUDED.last_updated
	`

	// queryCountDuplicate runs in its own transaction after a failed insert.
	queryCountDuplicate = `
		INSERT INTO system_stats AS s
			(id, received_count, unique_processed_count, duplicate_dropped_count, topics_count, last_updated)
		VALUES
			(1, 1, 0, 1, (SELECT COUNT(DISTINCT topic) FROM processed_events), NOW() AT TIME ZONE 'UTC')
		ON CONFLICT (id) DO UPDATE SET
			received_count          = s.received_count + 1,
			duplicate_dropped_count = s.duplicate_dropped_count + 1,
			last_updated            = EXCLUDED.last_updated
	`

	queryListEvents = `
		SELECT topic, event_id, timestamp, source, payload, processed_at
		FROM processed_events
		ORDER BY processed_at DESC, id DESC
		LIMIT $1
	`

	queryListEventsByTopic = `
		SELECT topic, event_id, timestamp, source, payload, processed_at
		FROM processed_events
		WHERE topic = $1
		ORDER BY processed_at DESC, id DESC
		LIMIT $2
	`

	queryGetStats = `
		SELECT received_count, unique_processed_count, duplicate_dropped_count,
		       topics_count, last_updated
		FROM system_stats
		WHERE id = 1
	`

	queryTableExists = `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)
	`
)
