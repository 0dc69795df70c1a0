package redisstore

import (
	"strconv"

	"github.com/kalbasit/sharedlock/storage"
)

func parseWriterPutResult(res []string) storage.WriterPutResult {
	if len(res) == 0 {
		return storage.WriterPutResult{}
	}

	switch res[0] {
	case "acquired":
		return storage.WriterPutResult{Acquired: true}
	case "blocked_writer":
		owner := ""
		if len(res) > 1 {
			owner = res[1]
		}

		return storage.WriterPutResult{ExistingWriterOwner: owner}
	case "blocked_reader":
		return storage.WriterPutResult{ExistingReaderSlots: append([]string{}, res[1:]...)}
	default:
		return storage.WriterPutResult{}
	}
}

func parseReaderAddResult(res []string) storage.ReaderAddResult {
	if len(res) == 0 {
		return storage.ReaderAddResult{}
	}

	switch res[0] {
	case "added", "limit_reached":
		limit, _ := strconv.Atoi(res[1])

		return storage.ReaderAddResult{
			Added:          res[0] == "added",
			EffectiveLimit: limit,
			CurrentSlots:   append([]string{}, res[2:]...),
		}
	case "blocked":
		return storage.ReaderAddResult{}
	default:
		return storage.ReaderAddResult{}
	}
}

func parseSnapshot(res []string) storage.Snapshot {
	if len(res) == 0 {
		return storage.Snapshot{Kind: storage.KindAbsent}
	}

	switch res[0] {
	case "writer":
		owner, expires := "", "never"
		if len(res) > 1 {
			owner = res[1]
		}

		if len(res) > 2 {
			expires = res[2]
		}

		return storage.Snapshot{
			Kind:         storage.KindWriter,
			WriterOwner:  owner,
			WriterExpiry: decodeExpiry(expires),
		}
	case "reader":
		limit := 0
		if len(res) > 1 {
			limit, _ = strconv.Atoi(res[1])
		}

		slots := make(map[string]storage.Expiry)

		for i := 2; i+1 < len(res); i += 2 {
			slots[res[i]] = decodeExpiry(res[i+1])
		}

		return storage.Snapshot{Kind: storage.KindReader, Limit: limit, Slots: slots}
	default:
		return storage.Snapshot{Kind: storage.KindAbsent}
	}
}
