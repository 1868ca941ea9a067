// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

// Package parse turns fetched pages into canonical records.
//
// Decoders are pure functions over (body, context). They are tolerant:
// a missing sub-element yields a zero field, never a panic; a count with
// trailing text keeps its leading integer. Only a missing identifying
// field (a broadcast with no id) drops the record.
package parse

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/doufen-org/graveyard/internal/models"
)

// User decodes the user API payload.
func User(body []byte) (*models.UserRecord, error) {
	var rec models.UserRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("parse user: missing id")
	}
	return &rec, nil
}

// Subject decodes a book/movie/music subject payload.
func Subject(body []byte) (*models.SubjectRecord, error) {
	var rec models.SubjectRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("parse subject: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("parse subject: missing id")
	}
	return &rec, nil
}

// interestsPayload is the mobile-API interests page shape.
type interestsPayload struct {
	Total     int64 `json:"total"`
	Interests []struct {
		Subject struct {
			ID string `json:"id"`
		} `json:"subject"`
		Rating struct {
			Value int64 `json:"value"`
		} `json:"rating"`
		Tags       []string `json:"tags"`
		Comment    string   `json:"comment"`
		CreateTime string   `json:"create_time"`
		Status     string   `json:"status"`
	} `json:"interests"`
}

// Interests decodes one page of the interests API for a given status
// (mark, doing, done). It returns the records and the reported total
// across all pages of that status.
func Interests(body []byte, status string) ([]models.InterestRecord, int64, error) {
	var payload interestsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, 0, fmt.Errorf("parse interests: %w", err)
	}
	records := make([]models.InterestRecord, 0, len(payload.Interests))
	for _, in := range payload.Interests {
		if in.Subject.ID == "" {
			continue
		}
		st := in.Status
		if st == "" {
			st = status
		}
		records = append(records, models.InterestRecord{
			SubjectID:  in.Subject.ID,
			Rating:     in.Rating.Value,
			Tags:       joinTags(in.Tags),
			Comment:    in.Comment,
			CreateTime: in.CreateTime,
			Status:     st,
		})
	}
	return records, payload.Total, nil
}

func joinTags(tags []string) string {
	out := ""
	for i, tag := range tags {
		if i > 0 {
			out += " "
		}
		out += tag
	}
	return out
}
