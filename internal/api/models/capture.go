package models

// CaptureStatusData is the state of the running capture session.
type CaptureStatusData struct {
	Backend       string  `json:"backend" example:"v4l" doc:"Active capture backend"`
	State         string  `json:"state" example:"capturing" doc:"Backend lifecycle state"`
	SessionID     string  `json:"session_id" example:"0b6f1c7e-5a7d-4a55-9c44-1f3c0e1d2b3a" doc:"Capture session identifier"`
	Width         int     `json:"width" example:"1920" doc:"Current frame width"`
	Height        int     `json:"height" example:"1080" doc:"Current frame height"`
	RefreshRate   float64 `json:"refresh_rate" example:"60" doc:"Input refresh rate in Hz"`
	HasSignal     bool    `json:"has_signal" example:"true" doc:"Whether the input has a valid signal"`
	DroppedFrames uint    `json:"dropped_frames" example:"0" doc:"Frames overwritten before they were consumed"`
	FPS           float64 `json:"fps" example:"59.94" doc:"Measured capture rate"`
}

type CaptureStatusResponse struct {
	Body CaptureStatusData
}

// PropertiesData holds device properties keyed by name.
type PropertiesData struct {
	Properties map[string]any `json:"properties" doc:"Device properties"`
}

type PropertiesResponse struct {
	Body PropertiesData
}

type PropertiesUpdateRequest struct {
	Body PropertiesData
}

// PropertyData is one device property.
type PropertyData struct {
	Key   string `json:"key" example:"brightness" doc:"Property name"`
	Value any    `json:"value" doc:"Property value (bool, number or string)"`
}

type PropertyResponse struct {
	Body PropertyData
}

type PropertyRequest struct {
	Key string `path:"key" example:"brightness" doc:"Property name"`
}

type PropertyUpdateRequest struct {
	Key  string `path:"key" example:"brightness" doc:"Property name"`
	Body struct {
		Value any `json:"value" doc:"New property value"`
	}
}

// FrameResponse carries an encoded snapshot of the current frame.
type FrameResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	Body         []byte
}

// AliasData is one resolution alias.
type AliasData struct {
	From string `json:"from" example:"1920x1080" doc:"Input resolution"`
	To   string `json:"to" example:"1280x720" doc:"Resolution forced on the device"`
}

// ScheduleData is one scheduled property write.
type ScheduleData struct {
	Name       string         `json:"name" example:"photo" doc:"Schedule name"`
	Spec       string         `json:"spec" example:"*/5 * * * *" doc:"Cron spec"`
	Properties map[string]any `json:"properties" doc:"Properties written when the schedule fires"`
}

// CaptureConfigData is the active reloadable configuration.
type CaptureConfigData struct {
	Aliases   []AliasData    `json:"aliases" doc:"Resolution aliases"`
	Schedules []ScheduleData `json:"schedules" doc:"Scheduled property writes"`
}

type CaptureConfigResponse struct {
	Body CaptureConfigData
}
