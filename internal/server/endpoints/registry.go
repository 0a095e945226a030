package endpoints

import (
	"github.com/jackzampolin/docsplit/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Job endpoints
		&CreateJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&JobStatusesEndpoint{},
		&RetryJobEndpoint{},
		&CancelJobEndpoint{},
		&DashboardEndpoint{},

		// Segment endpoints
		&MergeSegmentsEndpoint{},
		&CorrectSegmentEndpoint{},

		// Links, export and uploads
		&SourceURLEndpoint{},
		&SegmentURLEndpoint{},
		&ExportJobEndpoint{},
		&PresignUploadEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{},
		&SwaggerUIEndpoint{},
	}
}
