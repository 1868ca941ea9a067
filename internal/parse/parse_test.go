// Graveyard - Douban Personal Archive Crawler
// Copyright 2026 doufen.org
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doufen-org/graveyard

package parse

import (
	"testing"
)

func TestUniqueNameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.douban.com/people/alice/", "alice"},
		{"https://www.douban.com/people/ahbei", "ahbei"},
		{"https://www.douban.com/people/tabris17/?ref=x", "tabris17"},
		{"https://movie.douban.com/subject/1300374/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := UniqueNameFromURL(tt.url); got != tt.want {
			t.Errorf("UniqueNameFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestDoubanIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want int64
	}{
		{"https://movie.douban.com/subject/1300374/", 1300374},
		{"https://www.douban.com/note/123456/", 123456},
		{"https://www.douban.com/photos/album/98765/?m_start=18", 98765},
		{"https://www.douban.com/people/alice/", 0},
	}
	for _, tt := range tests {
		if got := DoubanIDFromURL(tt.url); got != tt.want {
			t.Errorf("DoubanIDFromURL(%q) = %d, want %d", tt.url, got, tt.want)
		}
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"24张照片", 24},
		{" 7 ", 7},
		{"12回应", 12},
		{"", 0},
		{"转发", 0},
	}
	for _, tt := range tests {
		if got := Count(tt.in); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestUserListWithPagination(t *testing.T) {
	html := []byte(`<html><body>
	<ul class="user-list">
		<li><a href="https://www.douban.com/people/alice/">Alice</a></li>
		<li><a href="https://www.douban.com/people/bob/">Bob</a></li>
		<li><a href="/somewhere/else">not a person</a></li>
	</ul>
	<div class="paginator"><span class="next"><a href="?start=20">后页</a></span></div>
	</body></html>`)

	names, next, err := UserList(html)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Fatalf("names = %v", names)
	}
	if !next {
		t.Fatal("next page link not detected")
	}
}

const broadcastPage = `<html><body><div class="stream-items">
<div class="status-item" data-sid="1001" data-uid="42">
	<a class="lnk-people" href="https://www.douban.com/people/alice/">Alice</a>
	<span class="created_at" title="2018-05-01 12:00:00"></span>
	<blockquote class="status-saying"><p>hello world</p></blockquote>
	<div class="pics"><img src="https://img1.doubanio.com/p100.jpg"></div>
	<span class="reshared-count">3转发</span>
	<span class="like-count">5赞</span>
	<span class="comments-count">2回应</span>
</div>
<div class="status-item" data-sid="1002" data-uid="42">
	<a class="lnk-people" href="https://www.douban.com/people/alice/">Alice</a>
	<span class="created_at" title="2018-05-02 09:30:00"></span>
	<div class="status-reshared">
		<div class="status-item" data-sid="900" data-uid="7">
			<a class="lnk-people" href="https://www.douban.com/people/carol/">Carol</a>
			<span class="created_at" title="2018-04-30 08:00:00"></span>
			<blockquote class="status-saying"><p>original text</p></blockquote>
		</div>
	</div>
</div>
<div class="status-item">
	<blockquote class="status-saying"><p>no id, skipped</p></blockquote>
</div>
</div></body></html>`

func TestBroadcasts(t *testing.T) {
	records, next, err := Broadcasts([]byte(broadcastPage))
	if err != nil {
		t.Fatal(err)
	}
	if next {
		t.Fatal("no pagination in fixture")
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2 (id-less status skipped)", len(records))
	}

	saying := records[0]
	if saying.DoubanID != 1001 || saying.Kind != "saying" {
		t.Fatalf("saying = %+v", saying)
	}
	if saying.Text != "hello world" {
		t.Fatalf("text = %q", saying.Text)
	}
	if len(saying.Images) != 1 || saying.Images[0] != "https://img1.doubanio.com/p100.jpg" {
		t.Fatalf("images = %v", saying.Images)
	}
	if saying.ResharedCount != 3 || saying.LikeCount != 5 || saying.CommentsCount != 2 {
		t.Fatalf("counts = %d/%d/%d", saying.ResharedCount, saying.LikeCount, saying.CommentsCount)
	}
	if saying.Created != "2018-05-01 12:00:00" {
		t.Fatalf("created = %q", saying.Created)
	}

	reshare := records[1]
	if reshare.Kind != "reshare" || reshare.Reshared == nil {
		t.Fatalf("reshare = %+v", reshare)
	}
	if reshare.Reshared.DoubanID != 900 || reshare.Reshared.Text != "original text" {
		t.Fatalf("inner = %+v", reshare.Reshared)
	}
}

func TestComments(t *testing.T) {
	html := []byte(`<ul class="comments">
	<li class="comment-item" data-cid="777">
		<a class="lnk-people" href="https://www.douban.com/people/bob/">Bob</a>
		<span class="pubtime">2018-05-02 08:00:00</span>
		<p class="comment-text">nice</p>
	</li>
	<li class="comment-item"><p class="comment-text">no id</p></li>
	</ul>`)

	records, next, err := Comments(html, "broadcast", 1001)
	if err != nil {
		t.Fatal(err)
	}
	if next {
		t.Fatal("unexpected next")
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	c := records[0]
	if c.DoubanID != 777 || c.TargetType != "broadcast" || c.TargetDoubanID != 1001 {
		t.Fatalf("comment = %+v", c)
	}
	if c.AuthorName != "Bob" || c.Text != "nice" {
		t.Fatalf("comment = %+v", c)
	}
}

func TestNoteListBothLayouts(t *testing.T) {
	standard := []byte(`<div class="note-container">
		<a href="https://www.douban.com/note/123/">My Note</a>
		<span class="pub-date">2018-01-02 10:00:00</span>
	</div>`)
	small := []byte(`<div class="note-item">
		<a href="https://www.douban.com/note/456/">Small Note</a>
	</div>`)

	items, _, err := NoteList(standard)
	if err != nil || len(items) != 1 || items[0].DoubanID != 123 {
		t.Fatalf("standard layout: %v %v", items, err)
	}
	items, _, err = NoteList(small)
	if err != nil || len(items) != 1 || items[0].DoubanID != 456 {
		t.Fatalf("small layout: %v %v", items, err)
	}
}

func TestLikes(t *testing.T) {
	html := []byte(`<ul class="interest-list">
	<li class="fav-item" data-type="movie" data-id="1300374">
		<a class="fav-title">Movie Title</a>
		<span class="fav-tags">classic scifi</span>
		<span class="fav-date">2018-04-01</span>
	</li>
	</ul>`)

	records, _, err := Likes(html)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	l := records[0]
	if l.TargetType != "movie" || l.TargetDoubanID != 1300374 || l.Tags != "classic scifi" {
		t.Fatalf("like = %+v", l)
	}
}

func TestUserJSON(t *testing.T) {
	body := []byte(`{"id":"1000001","uid":"alice","name":"Alice",
		"signature":"hi","loc_id":"108288","loc_name":"上海","type":"user"}`)
	rec, err := User(body)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "1000001" || rec.UID != "alice" || rec.LocID != 108288 {
		t.Fatalf("rec = %+v", rec)
	}

	if _, err := User([]byte(`{"name":"no id"}`)); err == nil {
		t.Fatal("missing id must fail")
	}
}

func TestInterestsJSON(t *testing.T) {
	body := []byte(`{"total":2,"interests":[
		{"subject":{"id":"111"},"rating":{"value":4},"tags":["a","b"],
		 "comment":"good","create_time":"2018-01-01 10:00:00","status":"done"},
		{"subject":{"id":""},"status":"done"}
	]}`)
	records, total, err := Interests(body, "done")
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Fatalf("total = %d", total)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d (empty subject id must be skipped)", len(records))
	}
	r := records[0]
	if r.SubjectID != "111" || r.Rating != 4 || r.Tags != "a b" || r.Status != "done" {
		t.Fatalf("record = %+v", r)
	}
}
