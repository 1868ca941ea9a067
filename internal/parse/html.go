// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package parse

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/doufen-org/graveyard/internal/models"
)

func document(body []byte) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(body))
}

// hasNextPage reports whether the pagination block links a further page.
func hasNextPage(doc *goquery.Document) bool {
	return doc.Find("span.next a").Length() > 0
}

// UserList decodes a contacts-style page (following, followers, block
// list) into the referenced unique names, page order preserved.
func UserList(body []byte) ([]string, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var names []string
	doc.Find("ul.user-list li a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if name := UniqueNameFromURL(href); name != "" {
			names = append(names, name)
		}
	})
	return names, hasNextPage(doc), nil
}

// Broadcasts decodes one page of the status timeline. Statuses without
// an id are skipped; a reshare carries its inner status in Reshared.
func Broadcasts(body []byte) ([]models.BroadcastRecord, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var records []models.BroadcastRecord
	doc.Find("div.stream-items > div.status-item").Each(func(_ int, sel *goquery.Selection) {
		if rec := broadcastFromSelection(sel); rec != nil {
			records = append(records, *rec)
		}
	})
	return records, hasNextPage(doc), nil
}

func broadcastFromSelection(sel *goquery.Selection) *models.BroadcastRecord {
	sid, _ := sel.Attr("data-sid")
	doubanID, err := strconv.ParseInt(sid, 10, 64)
	if err != nil || doubanID == 0 {
		// No identifying id: skip the record, never guess.
		return nil
	}

	rec := models.BroadcastRecord{DoubanID: doubanID}
	if uid, ok := sel.Attr("data-uid"); ok {
		rec.DoubanUserID, _ = strconv.ParseInt(uid, 10, 64)
	}

	author := sel.Find("a.lnk-people").First()
	rec.AuthorName = strings.TrimSpace(author.Text())
	rec.AuthorURL, _ = author.Attr("href")
	rec.Created, _ = sel.Find("span.created_at").First().Attr("title")

	if saying := sel.Find("blockquote.status-saying").First(); saying.Length() > 0 {
		rec.Kind = "saying"
		rec.Text = strings.TrimSpace(saying.Find("p").Text())
		sel.Find("div.pics img").Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok {
				rec.Images = append(rec.Images, src)
			}
		})
	}

	if inner := sel.Find("div.status-reshared div.status-item").First(); inner.Length() > 0 {
		rec.Kind = "reshare"
		rec.Reshared = broadcastFromSelection(inner)
	}

	if rec.Kind == "" {
		rec.Kind = "noreply"
		rec.Text = strings.TrimSpace(sel.Find("p.status-text").First().Text())
	}

	rec.ResharedCount = Count(sel.Find("span.reshared-count").First().Text())
	rec.LikeCount = Count(sel.Find("span.like-count").First().Text())
	rec.CommentsCount = Count(sel.Find("span.comments-count").First().Text())
	return &rec
}

// Comments decodes one page of comments under a target.
func Comments(body []byte, targetType string, targetDoubanID int64) ([]models.CommentRecord, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var records []models.CommentRecord
	doc.Find("li.comment-item").Each(func(_ int, sel *goquery.Selection) {
		cid, _ := sel.Attr("data-cid")
		doubanID, err := strconv.ParseInt(cid, 10, 64)
		if err != nil || doubanID == 0 {
			return
		}
		author := sel.Find("a.lnk-people").First()
		href, _ := author.Attr("href")
		records = append(records, models.CommentRecord{
			DoubanID:       doubanID,
			TargetType:     targetType,
			TargetDoubanID: targetDoubanID,
			AuthorName:     strings.TrimSpace(author.Text()),
			AuthorURL:      href,
			Created:        strings.TrimSpace(sel.Find("span.pubtime").First().Text()),
			Text:           strings.TrimSpace(sel.Find("p.comment-text").First().Text()),
		})
	})
	return records, hasNextPage(doc), nil
}

// NoteList decodes the notes listing. Both the standard layout
// (.note-container) and the small-site layout (.note-item) occur.
func NoteList(body []byte) ([]models.NoteItemRecord, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var items []models.NoteItemRecord
	collect := func(_ int, sel *goquery.Selection) {
		link := sel.Find("a[href]").First()
		href, _ := link.Attr("href")
		doubanID := DoubanIDFromURL(href)
		if doubanID == 0 {
			return
		}
		items = append(items, models.NoteItemRecord{
			DoubanID: doubanID,
			Title:    strings.TrimSpace(link.Text()),
			URL:      href,
			Created:  strings.TrimSpace(sel.Find("span.pub-date").First().Text()),
		})
	}
	doc.Find("div.note-container").Each(collect)
	if len(items) == 0 {
		doc.Find("div.note-item").Each(collect)
	}
	return items, hasNextPage(doc), nil
}

// Note decodes a note detail page.
func Note(body []byte) (*models.NoteRecord, error) {
	doc, err := document(body)
	if err != nil {
		return nil, err
	}
	note := doc.Find("div.note").First()
	rec := &models.NoteRecord{
		Title:   strings.TrimSpace(doc.Find("h1").First().Text()),
		Created: strings.TrimSpace(doc.Find("span.pub-date").First().Text()),
	}
	if content, err := note.Find("div.note-content").First().Html(); err == nil {
		rec.Content = strings.TrimSpace(content)
	}
	note.Find("div.note-content img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok {
			rec.Images = append(rec.Images, src)
		}
	})
	return rec, nil
}

// Albums decodes the albums listing. Standard layout uses
// div.album-item; the small site wraps entries in li.album-item.
func Albums(body []byte) ([]models.AlbumRecord, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var records []models.AlbumRecord
	collect := func(_ int, sel *goquery.Selection) {
		link := sel.Find("a.album-title").First()
		href, _ := link.Attr("href")
		doubanID := DoubanIDFromURL(href)
		if doubanID == 0 {
			return
		}
		cover, _ := sel.Find("img.album-cover").First().Attr("src")
		records = append(records, models.AlbumRecord{
			DoubanID:    doubanID,
			Title:       strings.TrimSpace(link.Text()),
			Desc:        strings.TrimSpace(sel.Find("div.album-desc").First().Text()),
			Cover:       cover,
			Count:       Count(sel.Find("span.album-count").First().Text()),
			LastUpdated: strings.TrimSpace(sel.Find("span.album-updated").First().Text()),
		})
	}
	doc.Find("div.album-item").Each(collect)
	if len(records) == 0 {
		doc.Find("li.album-item").Each(collect)
	}
	return records, hasNextPage(doc), nil
}

// Photos decodes one page of an album's pictures.
func Photos(body []byte) ([]models.PhotoRecord, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var records []models.PhotoRecord
	doc.Find("div.photo-item").Each(func(_ int, sel *goquery.Selection) {
		pid, _ := sel.Attr("data-pid")
		doubanID, err := strconv.ParseInt(pid, 10, 64)
		if err != nil || doubanID == 0 {
			return
		}
		src, _ := sel.Find("img").First().Attr("src")
		records = append(records, models.PhotoRecord{
			DoubanID: doubanID,
			URL:      src,
			Desc:     strings.TrimSpace(sel.Find("div.photo-desc").First().Text()),
		})
	})
	return records, hasNextPage(doc), nil
}

// Likes decodes one page of the user's likes.
func Likes(body []byte) ([]models.LikeRecord, bool, error) {
	doc, err := document(body)
	if err != nil {
		return nil, false, err
	}
	var records []models.LikeRecord
	doc.Find("li.fav-item").Each(func(_ int, sel *goquery.Selection) {
		targetType, _ := sel.Attr("data-type")
		rawID, _ := sel.Attr("data-id")
		doubanID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || doubanID == 0 || targetType == "" {
			return
		}
		records = append(records, models.LikeRecord{
			TargetType:     targetType,
			TargetDoubanID: doubanID,
			Title:          strings.TrimSpace(sel.Find("a.fav-title").First().Text()),
			Tags:           strings.TrimSpace(sel.Find("span.fav-tags").First().Text()),
			Created:        strings.TrimSpace(sel.Find("span.fav-date").First().Text()),
		})
	})
	return records, hasNextPage(doc), nil
}
