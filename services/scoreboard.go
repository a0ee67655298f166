package services

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
)

// Scoreboard keeps the per-session player registry and cumulative scores.
// Registration data lives in the players hash, scores in a separate hash so
// additions go through HIncrBy and stay atomic.
type Scoreboard struct {
	store *SessionStore
}

func NewScoreboard(store *SessionStore) *Scoreboard {
	return &Scoreboard{store: store}
}

type playerRecord struct {
	Nickname string `json:"nickname"`
	Seq      int64  `json:"seq"` // registration order, used for tie-breaking
}

// LeaderboardEntry is one ranked row of the leaderboard view.
type LeaderboardEntry struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
}

// AddPlayer registers a player with score 0. Re-registration on reconnect is
// a no-op: the HSetNX write loses against the existing record, so the
// player's seq and accumulated score are preserved.
func (b *Scoreboard) AddPlayer(ctx context.Context, sessionID, playerID, nickname string) error {
	seq, err := b.store.rdb.Incr(ctx, keyPlayerSeq(sessionID)).Result()
	if err != nil {
		return storeErr(err)
	}

	data, err := json.Marshal(playerRecord{Nickname: nickname, Seq: seq})
	if err != nil {
		return err
	}

	if err := b.store.rdb.HSetNX(ctx, keyPlayers(sessionID), playerID, data).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// AddScore adds delta to the player's cumulative score. Unknown players are
// ignored; players are only removed at session cleanup so the existence
// check cannot race with a concurrent removal.
func (b *Scoreboard) AddScore(ctx context.Context, sessionID, playerID string, delta int) error {
	known, err := b.store.rdb.HExists(ctx, keyPlayers(sessionID), playerID).Result()
	if err != nil {
		return storeErr(err)
	}
	if !known {
		return nil
	}

	if err := b.store.rdb.HIncrBy(ctx, keyScores(sessionID), playerID, int64(delta)).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetLeaderboard returns entries sorted by score descending, ties broken by
// registration order, truncated to topN (0 = unlimited).
func (b *Scoreboard) GetLeaderboard(ctx context.Context, sessionID string, topN int) ([]LeaderboardEntry, error) {
	players, err := b.store.rdb.HGetAll(ctx, keyPlayers(sessionID)).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	scores, err := b.store.rdb.HGetAll(ctx, keyScores(sessionID)).Result()
	if err != nil {
		return nil, storeErr(err)
	}

	type ranked struct {
		entry LeaderboardEntry
		seq   int64
	}

	rows := make([]ranked, 0, len(players))
	for playerID, raw := range players {
		var record playerRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			record = playerRecord{Nickname: raw}
		}

		score := 0
		if s, ok := scores[playerID]; ok {
			score, _ = strconv.Atoi(s)
		}

		rows = append(rows, ranked{
			entry: LeaderboardEntry{PlayerID: playerID, Nickname: record.Nickname, Score: score},
			seq:   record.Seq,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].entry.Score != rows[j].entry.Score {
			return rows[i].entry.Score > rows[j].entry.Score
		}
		return rows[i].seq < rows[j].seq
	})

	entries := make([]LeaderboardEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry)
	}
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}
