package core

import (
	"context"
	"fmt"
	"sort"
)

// numRanks is the number of quantized relevance buckets; a word's score maps
// to rank floor(score*10), clamped into [0, numRanks-1].
const numRanks = 11

func rankFor(score float64) int {
	rank := int(score * 10)
	if rank < 0 {
		return 0
	}
	if rank >= numRanks {
		return numRanks - 1
	}
	return rank
}

// addObjectKeywords persists one posting per scored word for an object.
// Each word's document-frequency counter grows by one, regardless of how
// often the word occurs within the object.
func (s *Store) addObjectKeywords(ctx context.Context, typeID, objectID int64, words map[string]float64) error {
	if len(words) == 0 {
		return nil
	}

	list := make([]string, 0, len(words))
	for word := range words {
		list = append(list, word)
	}
	sort.Strings(list)

	args := make([]any, len(list))
	for i, word := range list {
		args[i] = word
	}
	rows, err := s.queryRows(ctx,
		fmt.Sprintf("SELECT id, word FROM words WHERE word IN (%s)", placeholders(len(list))), args...)
	if err != nil {
		return err
	}
	known := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			word string
		)
		if err := rows.Scan(&id, &word); err != nil {
			rows.Close()
			return err
		}
		known[word] = id
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, word := range list {
		wordID, ok := known[word]
		if !ok {
			res, err := s.exec(ctx, "INSERT INTO words (word, count) VALUES (?, 1)", word)
			if err != nil {
				return err
			}
			if wordID, err = res.LastInsertId(); err != nil {
				return err
			}
		} else {
			if _, err := s.exec(ctx, "UPDATE words SET count=count+1 WHERE id=?", wordID); err != nil {
				return err
			}
		}

		score := words[word]
		if _, err := s.exec(ctx, "INSERT INTO words_map VALUES (?, ?, ?, ?, ?)",
			rankFor(score), wordID, typeID, objectID, score); err != nil {
			return err
		}
	}
	return nil
}

// deleteObjectKeywords retracts every posting for the given objects of one
// type. The delete_words_map trigger decrements each affected word's
// document-frequency counter per posting removed.
func (s *Store) deleteObjectKeywords(ctx context.Context, typeID int64, objectIDs []int64) error {
	if len(objectIDs) == 0 {
		return nil
	}
	args := append(int64Args(objectIDs), typeID)
	_, err := s.exec(ctx, fmt.Sprintf(
		"DELETE FROM words_map WHERE object_id IN (%s) AND object_type=?",
		placeholders(len(objectIDs))), args...)
	return err
}

// deleteObjectsKeywords retracts postings for objects across several types.
func (s *Store) deleteObjectsKeywords(ctx context.Context, objects map[string][]int64) error {
	for typeName, ids := range objects {
		def, err := s.typeDefFor(typeName)
		if err != nil {
			return err
		}
		if err := s.deleteObjectKeywords(ctx, def.id, ids); err != nil {
			return err
		}
	}
	return nil
}
