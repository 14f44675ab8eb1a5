package mcp

import "github.com/mark3labs/mcp-go/mcp"

var kindValues = []string{"course", "material", "video", "quiz", "assignment"}

var downloadToolDef = mcp.NewTool("content_download",
	mcp.WithDescription("Download a content item for offline use. Replaces any stored copy and resets its progress."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Content id on the learning platform")),
	mcp.WithString("kind", mcp.Required(), mcp.Enum(kindValues...), mcp.Description("Content kind")),
)

var removeToolDef = mcp.NewTool("content_remove",
	mcp.WithDescription("Remove a downloaded item. Removing an item that is not stored succeeds."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Content id")),
)

var getToolDef = mcp.NewTool("content_get",
	mcp.WithDescription("Fetch one downloaded item with its progress."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Content id")),
	mcp.WithBoolean("include_payload", mcp.Description("Include the stored payload (default true)")),
)

var listToolDef = mcp.NewTool("content_list",
	mcp.WithDescription("List downloaded items in download order, without payloads."),
	mcp.WithString("kind", mcp.Enum(kindValues...), mcp.Description("Only list items of this kind")),
)

var progressToolDef = mcp.NewTool("content_progress",
	mcp.WithDescription("Merge a progress update into a downloaded item and queue it for sync. Fields not given are kept."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Content id")),
	mcp.WithNumber("percentage", mcp.Description("Completion percentage, clamped to 0-100")),
	mcp.WithNumber("time_spent_seconds", mcp.Description("Total seconds spent")),
	mcp.WithNumber("last_position", mcp.Description("Playback or reading position")),
	mcp.WithBoolean("completed", mcp.Description("Completion flag; true forces 100%")),
)

var completeToolDef = mcp.NewTool("content_complete",
	mcp.WithDescription("Mark a downloaded item completed and queue a completion event."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Content id")),
)

var sweepToolDef = mcp.NewTool("content_sweep",
	mcp.WithDescription("Delete downloaded items whose retention window has passed."),
)

var syncRunToolDef = mcp.NewTool("sync_run",
	mcp.WithDescription("Run one sync pass. Skipped while offline, while another pass runs, or when nothing is queued."),
)

var syncQueueToolDef = mcp.NewTool("sync_queue",
	mcp.WithDescription("Show pending sync entries in delivery order."),
	mcp.WithBoolean("dead_letters", mcp.Description("Show entries that exhausted their retries instead")),
)

var syncRequeueToolDef = mcp.NewTool("sync_requeue",
	mcp.WithDescription("Move a dead-lettered sync entry back onto the queue with its retry count reset."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Sync entry id")),
)

var statsToolDef = mcp.NewTool("offline_stats",
	mcp.WithDescription("Report stored item count, storage use, pending sync entries, and last sync time."),
)
