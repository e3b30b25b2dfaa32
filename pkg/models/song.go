package models

import "time"

// Song represents a playable audio item in the catalog. Rows are written by
// the upload path or the bucket watcher and are immutable afterwards.
type Song struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	SongPath  string    `json:"songPath"`  // object key inside the songs bucket
	ImagePath string    `json:"imagePath"` // object key inside the images bucket
	Duration  int       `json:"duration"`  // in seconds
	CreatedAt time.Time `json:"createdAt"`
}

// LikedSong links a user to a song they marked as liked.
type LikedSong struct {
	UserID    string    `json:"userId"`
	SongID    string    `json:"songId"`
	CreatedAt time.Time `json:"createdAt"`
}
