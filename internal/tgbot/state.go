package tgbot

import (
	"context"
	"encoding/binary"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/gotd/td/telegram/updates"
)

func i2b(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func b2i(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }

var (
	bucketState    = []byte("state")
	bucketChannels = []byte("channels")
	bucketPeers    = []byte("peers")

	keyPts  = []byte("pts")
	keyQts  = []byte("qts")
	keyDate = []byte("date")
	keySeq  = []byte("seq")
)

var _ updates.StateStorage = (*BoltState)(nil)

// BoltState stores update state and known user access hashes of bot.
type BoltState struct {
	db *bolt.DB
}

// NewBoltState creates new BoltState.
func NewBoltState(db *bolt.DB) *BoltState { return &BoltState{db: db} }

func (s *BoltState) GetState(ctx context.Context, userID int64) (state updates.State, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(i2b(userID))
		if user == nil {
			return nil
		}
		b := user.Bucket(bucketState)
		if b == nil {
			return nil
		}

		var (
			pts  = b.Get(keyPts)
			qts  = b.Get(keyQts)
			date = b.Get(keyDate)
			seq  = b.Get(keySeq)
		)
		if pts == nil || qts == nil || date == nil || seq == nil {
			return nil
		}

		state = updates.State{
			Pts:  int(b2i(pts)),
			Qts:  int(b2i(qts)),
			Date: int(b2i(date)),
			Seq:  int(b2i(seq)),
		}
		found = true
		return nil
	})
	return state, found, err
}

func (s *BoltState) SetState(ctx context.Context, userID int64, state updates.State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := tx.CreateBucketIfNotExists(i2b(userID))
		if err != nil {
			return errors.Wrap(err, "user bucket")
		}
		b, err := user.CreateBucketIfNotExists(bucketState)
		if err != nil {
			return errors.Wrap(err, "state bucket")
		}

		for k, v := range map[string]int{
			string(keyPts):  state.Pts,
			string(keyQts):  state.Qts,
			string(keyDate): state.Date,
			string(keySeq):  state.Seq,
		} {
			if err := b.Put([]byte(k), i2b(int64(v))); err != nil {
				return errors.Wrapf(err, "put %s", k)
			}
		}
		return nil
	})
}

// update calls f with existing state bucket of user.
func (s *BoltState) update(userID int64, f func(b *bolt.Bucket) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user := tx.Bucket(i2b(userID))
		if user == nil {
			return errors.New("state not found")
		}
		b := user.Bucket(bucketState)
		if b == nil {
			return errors.New("state not found")
		}
		return f(b)
	})
}

func (s *BoltState) put(userID int64, key []byte, v int) error {
	return s.update(userID, func(b *bolt.Bucket) error {
		return b.Put(key, i2b(int64(v)))
	})
}

func (s *BoltState) SetPts(ctx context.Context, userID int64, pts int) error {
	return s.put(userID, keyPts, pts)
}

func (s *BoltState) SetQts(ctx context.Context, userID int64, qts int) error {
	return s.put(userID, keyQts, qts)
}

func (s *BoltState) SetDate(ctx context.Context, userID int64, date int) error {
	return s.put(userID, keyDate, date)
}

func (s *BoltState) SetSeq(ctx context.Context, userID int64, seq int) error {
	return s.put(userID, keySeq, seq)
}

func (s *BoltState) SetDateSeq(ctx context.Context, userID int64, date, seq int) error {
	return s.update(userID, func(b *bolt.Bucket) error {
		if err := b.Put(keyDate, i2b(int64(date))); err != nil {
			return err
		}
		return b.Put(keySeq, i2b(int64(seq)))
	})
}

func (s *BoltState) GetChannelPts(ctx context.Context, userID, channelID int64) (pts int, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(i2b(userID))
		if user == nil {
			return nil
		}
		channels := user.Bucket(bucketChannels)
		if channels == nil {
			return nil
		}
		if v := channels.Get(i2b(channelID)); v != nil {
			pts, found = int(b2i(v)), true
		}
		return nil
	})
	return pts, found, err
}

func (s *BoltState) SetChannelPts(ctx context.Context, userID, channelID int64, pts int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		user, err := tx.CreateBucketIfNotExists(i2b(userID))
		if err != nil {
			return errors.Wrap(err, "user bucket")
		}
		channels, err := user.CreateBucketIfNotExists(bucketChannels)
		if err != nil {
			return errors.Wrap(err, "channels bucket")
		}
		return channels.Put(i2b(channelID), i2b(int64(pts)))
	})
}

func (s *BoltState) ForEachChannels(
	ctx context.Context, userID int64,
	f func(ctx context.Context, channelID int64, pts int) error,
) error {
	return s.db.View(func(tx *bolt.Tx) error {
		user := tx.Bucket(i2b(userID))
		if user == nil {
			return nil
		}
		channels := user.Bucket(bucketChannels)
		if channels == nil {
			return nil
		}
		return channels.ForEach(func(k, v []byte) error {
			return f(ctx, b2i(k), int(b2i(v)))
		})
	})
}

// SavePeer remembers access hash of user.
func (s *BoltState) SavePeer(ctx context.Context, userID, accessHash int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		peers, err := tx.CreateBucketIfNotExists(bucketPeers)
		if err != nil {
			return errors.Wrap(err, "peers bucket")
		}
		return peers.Put(i2b(userID), i2b(accessHash))
	})
}

// Peer returns access hash of user, if known.
func (s *BoltState) Peer(ctx context.Context, userID int64) (accessHash int64, found bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		peers := tx.Bucket(bucketPeers)
		if peers == nil {
			return nil
		}
		if v := peers.Get(i2b(userID)); v != nil {
			accessHash, found = b2i(v), true
		}
		return nil
	})
	return accessHash, found, err
}
