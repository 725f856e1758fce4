package models

import "time"

type GalleryUploadRequest struct {
	Name    string `json:"name"`
	DataURI string `json:"data_uri"` // image as data URI, at most 5MB decoded
}

type GalleryImageResponse struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	DataURI   string    `json:"data_uri,omitempty"` // only set when a single image is requested
	CreatedAt time.Time `json:"created_at"`
}
