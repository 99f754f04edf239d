package store

import (
	"fmt"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/channel"
)

// ChannelDistances returns the valid distances journalled for one channel
// since the given time, oldest first. Validity uses the same rule as the
// live pipeline: a reading counts iff 0 < d < maxValidMm.
func (s *Store) ChannelDistances(ch int, since time.Time, maxValidMm int) ([]float64, error) {
	if !channel.ValidIndex(ch) {
		return nil, fmt.Errorf("unknown channel %d", ch)
	}

	// The column name is derived from the validated index, never from
	// caller input.
	col := fmt.Sprintf("d%d", ch)
	query := fmt.Sprintf(
		`SELECT %s FROM frames WHERE recv_time >= ? AND %s > 0 AND %s < ? ORDER BY recv_time ASC`,
		col, col, col,
	)

	rows, err := s.Query(query, since.UnixMilli(), maxValidMm)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel %d distances: %w", ch, err)
	}
	defer rows.Close()

	var distances []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan distance: %w", err)
		}
		distances = append(distances, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distances: %w", err)
	}
	return distances, nil
}

// ChannelStats summarises the valid distances journalled for one channel
// since the given time.
func (s *Store) ChannelStats(ch int, since time.Time, maxValidMm int) (channel.Stats, error) {
	distances, err := s.ChannelDistances(ch, since, maxValidMm)
	if err != nil {
		return channel.Stats{}, err
	}
	return channel.ComputeStats(ch, distances), nil
}
