//go:build ndi

package ndi

/*
#cgo CFLAGS: -I${SRCDIR}/include
#cgo linux LDFLAGS: -L/usr/lib -L/usr/local/lib -lndi
#cgo darwin LDFLAGS: -L/Library/NDI\ SDK\ for\ Apple/lib/macOS -lndi

#include <stdlib.h>
#include <stdbool.h>
#include <stdint.h>
#include <string.h>

typedef struct NDIlib_source_t {
    const char* p_ndi_name;
    const char* p_url_address;
} NDIlib_source_t;

typedef struct NDIlib_find_create_t {
    bool show_local_sources;
    const char* p_groups;
    const char* p_extra_ips;
} NDIlib_find_create_t;

typedef void* NDIlib_find_instance_t;
typedef void* NDIlib_recv_instance_t;

typedef struct NDIlib_recv_create_v3_t {
    NDIlib_source_t source_to_connect_to;
    int color_format;
    int bandwidth;
    bool allow_video_fields;
    const char* p_ndi_recv_name;
} NDIlib_recv_create_v3_t;

typedef enum NDIlib_frame_type_e {
    NDIlib_frame_type_none = 0,
    NDIlib_frame_type_video = 1,
    NDIlib_frame_type_audio = 2,
    NDIlib_frame_type_metadata = 3,
    NDIlib_frame_type_error = 4,
    NDIlib_frame_type_status_change = 100
} NDIlib_frame_type_e;

typedef struct NDIlib_video_frame_v2_t {
    int xres;
    int yres;
    int FourCC;
    int frame_rate_N;
    int frame_rate_D;
    float picture_aspect_ratio;
    int frame_format_type;
    int64_t timecode;
    uint8_t* p_data;
    int line_stride_in_bytes;
    const char* p_metadata;
    int64_t timestamp;
} NDIlib_video_frame_v2_t;

extern bool NDIlib_initialize(void);
extern void NDIlib_destroy(void);
extern NDIlib_find_instance_t NDIlib_find_create_v2(const NDIlib_find_create_t* p_create_settings);
extern void NDIlib_find_destroy(NDIlib_find_instance_t p_instance);
extern bool NDIlib_find_wait_for_sources(NDIlib_find_instance_t p_instance, uint32_t timeout_in_ms);
extern const NDIlib_source_t* NDIlib_find_get_current_sources(NDIlib_find_instance_t p_instance, uint32_t* p_no_sources);
extern NDIlib_recv_instance_t NDIlib_recv_create_v3(const NDIlib_recv_create_v3_t* p_create_settings);
extern void NDIlib_recv_destroy(NDIlib_recv_instance_t p_instance);
extern NDIlib_frame_type_e NDIlib_recv_capture_v2(NDIlib_recv_instance_t p_instance, NDIlib_video_frame_v2_t* p_video_data, void* p_audio_data, void* p_metadata, uint32_t timeout_in_ms);
extern void NDIlib_recv_free_video_v2(NDIlib_recv_instance_t p_instance, const NDIlib_video_frame_v2_t* p_video_data);

static inline void copy_video_data(uint8_t* dst, const NDIlib_video_frame_v2_t* frame) {
    memcpy(dst, frame->p_data, (size_t)frame->line_stride_in_bytes * (size_t)frame->yres);
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/function-store/RpiSimpleNDI/internal/transport"
)

var (
	initOnce sync.Once
	initErr  error
)

func initialize() error {
	initOnce.Do(func() {
		if !bool(C.NDIlib_initialize()) {
			initErr = errors.New("NDI library initialization failed")
		}
	})
	return initErr
}

// Transport implements transport.Transport on top of the NDI SDK. A single
// finder instance is held for the transport's lifetime so that repeated
// discovery polls reuse the SDK's internal source table.
type Transport struct {
	mu     sync.Mutex
	finder C.NDIlib_find_instance_t
	config Config
}

// Config tunes SDK-level discovery and receive behavior.
type Config struct {
	ShowLocalSources bool
	Groups           string
	ExtraIPs         string
	ReceiverName     string
	ColorFormat      int // NDIlib_recv_color_format_e; 1 = UYVY_BGRA
}

// New creates the SDK-backed transport and its finder instance.
func New(config Config) (*Transport, error) {
	if err := initialize(); err != nil {
		return nil, err
	}

	var createSettings C.NDIlib_find_create_t
	createSettings.show_local_sources = C.bool(config.ShowLocalSources)
	if config.Groups != "" {
		cGroups := C.CString(config.Groups)
		defer C.free(unsafe.Pointer(cGroups))
		createSettings.p_groups = cGroups
	}
	if config.ExtraIPs != "" {
		cIPs := C.CString(config.ExtraIPs)
		defer C.free(unsafe.Pointer(cIPs))
		createSettings.p_extra_ips = cIPs
	}

	finder := C.NDIlib_find_create_v2(&createSettings)
	if finder == nil {
		return nil, errors.New("failed to create NDI finder")
	}

	if config.ReceiverName == "" {
		config.ReceiverName = "RpiSimpleNDI"
	}

	return &Transport{finder: finder, config: config}, nil
}

// ListSources waits up to scanTimeout for discovery to settle and returns
// the raw names of all currently visible sources.
func (t *Transport) ListSources(ctx context.Context, scanTimeout time.Duration) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finder == nil {
		return nil, errors.New("transport closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	C.NDIlib_find_wait_for_sources(t.finder, C.uint32_t(scanTimeout.Milliseconds()))

	var numSources C.uint32_t
	sources := C.NDIlib_find_get_current_sources(t.finder, &numSources)
	if sources == nil || numSources == 0 {
		return nil, nil
	}

	slice := unsafe.Slice(sources, int(numSources))
	names := make([]string, 0, len(slice))
	for _, src := range slice {
		if src.p_ndi_name != nil {
			names = append(names, C.GoString(src.p_ndi_name))
		}
	}
	return names, nil
}

// Connect opens a receive handle to the named source. The source must be
// present in the finder's current table.
func (t *Transport) Connect(name string) (transport.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finder == nil {
		return nil, errors.New("transport closed")
	}

	var numSources C.uint32_t
	sources := C.NDIlib_find_get_current_sources(t.finder, &numSources)
	if sources == nil || numSources == 0 {
		return nil, fmt.Errorf("source %q not found: no sources visible", name)
	}

	slice := unsafe.Slice(sources, int(numSources))
	var target *C.NDIlib_source_t
	for i := range slice {
		if slice[i].p_ndi_name != nil && C.GoString(slice[i].p_ndi_name) == name {
			target = &slice[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("source %q not found", name)
	}

	cRecvName := C.CString(t.config.ReceiverName)
	defer C.free(unsafe.Pointer(cRecvName))

	createSettings := C.NDIlib_recv_create_v3_t{
		source_to_connect_to: *target,
		color_format:         C.int(t.config.ColorFormat),
		bandwidth:            100, // highest
		allow_video_fields:   C.bool(false),
		p_ndi_recv_name:      cRecvName,
	}

	instance := C.NDIlib_recv_create_v3(&createSettings)
	if instance == nil {
		return nil, fmt.Errorf("failed to create NDI receiver for %q", name)
	}

	return &connection{instance: instance}, nil
}

// Close destroys the finder and shuts down the SDK handle.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.finder != nil {
		C.NDIlib_find_destroy(t.finder)
		t.finder = nil
	}
	return nil
}

type connection struct {
	mu       sync.Mutex
	instance C.NDIlib_recv_instance_t
}

func (c *connection) Receive(timeout time.Duration) (*transport.RawFrame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.instance == nil {
		return nil, errors.New("connection closed")
	}

	var cFrame C.NDIlib_video_frame_v2_t
	frameType := C.NDIlib_recv_capture_v2(c.instance, &cFrame, nil, nil, C.uint32_t(timeout.Milliseconds()))

	switch frameType {
	case C.NDIlib_frame_type_video:
		dataSize := int(cFrame.line_stride_in_bytes) * int(cFrame.yres)
		data := make([]byte, dataSize)
		if dataSize > 0 {
			C.copy_video_data((*C.uint8_t)(unsafe.Pointer(&data[0])), &cFrame)
		}
		frame := &transport.RawFrame{
			Width:      int(cFrame.xres),
			Height:     int(cFrame.yres),
			FourCC:     uint32(cFrame.FourCC),
			FrameRateN: int(cFrame.frame_rate_N),
			FrameRateD: int(cFrame.frame_rate_D),
			Stride:     int(cFrame.line_stride_in_bytes),
			Data:       data,
			Timestamp:  time.Now(),
		}
		C.NDIlib_recv_free_video_v2(c.instance, &cFrame)
		return frame, nil

	case C.NDIlib_frame_type_error:
		return nil, errors.New("NDI receive error")

	default:
		// none, status change, or non-video traffic within the window
		return nil, transport.ErrTimeout
	}
}

func (c *connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.instance != nil {
		C.NDIlib_recv_destroy(c.instance)
		c.instance = nil
	}
	return nil
}
