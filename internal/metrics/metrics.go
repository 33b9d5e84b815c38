package metrics

import "expvar"

var (
	// FeedMessages 按 topic 统计收到的推送
	FeedMessages = expvar.NewMap("feed_messages")
	FeedErrors   = expvar.NewInt("feed_errors")

	SnapshotSaves = expvar.NewInt("snapshot_saves")
	SnapshotLoads = expvar.NewInt("snapshot_loads")

	JournalWrites = expvar.NewInt("journal_writes")
	JournalErrors = expvar.NewInt("journal_errors")

	APIRefreshes = expvar.NewInt("api_refreshes")
	APIErrors    = expvar.NewInt("api_errors")
)
