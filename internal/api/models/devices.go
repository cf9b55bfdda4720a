package models

// DeviceInfo represents a video device with snake_case fields
type DeviceInfo struct {
	DevicePath   string   `json:"device_path" example:"/dev/video0" doc:"System device path"`
	DeviceName   string   `json:"device_name" example:"USB Camera" doc:"Device name"`
	DeviceID     string   `json:"device_id" example:"usb-0000:00:14.0-1-video-index0" doc:"Stable device identifier"`
	Driver       string   `json:"driver" example:"uvcvideo" doc:"Kernel driver"`
	Caps         uint32   `json:"caps" example:"84000001" doc:"Raw V4L2 capability flags"`
	Capabilities []string `json:"capabilities" example:"[\"Video Capture\", \"Streaming I/O\"]" doc:"Device capabilities"`
	Ready        bool     `json:"ready" example:"true" doc:"Whether the device reports a locked input signal"`
}

// FormatInfo represents a video format
type FormatInfo struct {
	FourCC       string `json:"fourcc" example:"YUYV" doc:"Pixel format code"`
	OriginalName string `json:"original_name" example:"YUYV 4:2:2" doc:"Original V4L2 format name"`
	Emulated     bool   `json:"emulated" example:"false" doc:"Whether format is emulated"`
}

// Resolution represents video resolution with snake_case fields
type Resolution struct {
	Width  uint32 `json:"width" example:"1920" doc:"Video width in pixels"`
	Height uint32 `json:"height" example:"1080" doc:"Video height in pixels"`
}

// Device API response models
type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"List of available video devices"`
	Count   int          `json:"count" example:"2" doc:"Number of devices found"`
}

type DeviceResponse struct {
	Body DeviceData
}

type DeviceFormatsRequest struct {
	DeviceID string `path:"device_id" example:"usb-0000:00:14.0-1-video-index0" doc:"Stable device identifier or /dev path"`
}

type DeviceFormatsData struct {
	DevicePath string       `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	Formats    []FormatInfo `json:"formats" doc:"Supported video formats"`
}

type DeviceFormatsResponse struct {
	Body DeviceFormatsData
}
