package storage

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var bucketMedia = []byte("media")

// MediaMetadata describes an uploaded media file (voice note, image or
// video) stored in the filestore under its content hash.
type MediaMetadata struct {
	ID        string `msgpack:"id"`
	Hash      string `msgpack:"hash"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	UserID    string `msgpack:"userId"`
}

func (m *MediaMetadata) Key() []byte {
	return []byte(m.ID)
}

func (m *MediaMetadata) MarshalBinary() (data []byte, err error) {
	type alias MediaMetadata
	return msgpack.Marshal((*alias)(m))
}

func (m *MediaMetadata) UnmarshalBinary(data []byte) error {
	type alias MediaMetadata
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (s *BboltStorage) UpsertMediaMetadata(meta MediaMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMedia)
		if err != nil {
			return err
		}
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal media metadata: %w", err)
		}
		return b.Put(meta.Key(), data)
	})
}

func (s *BboltStorage) GetMediaMetadata(id string) (MediaMetadata, error) {
	var meta MediaMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMedia)
		if b == nil {
			return fmt.Errorf("media metadata not found for id %s", id)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("media metadata not found for id %s", id)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}
