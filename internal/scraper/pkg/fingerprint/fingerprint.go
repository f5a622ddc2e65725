package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

type DeviceProfile struct {
	Model          string
	Brand          string
	AndroidVersion string
}

type Screen struct {
	Width  int
	Height int
	DPI    int
}

// Популярные в Египте устройства среднего сегмента.
var profiles = []DeviceProfile{
	{"Samsung SM-A525F", "samsung", "13"},
	{"Samsung SM-A536B", "samsung", "14"},
	{"Samsung SM-A546B", "samsung", "14"},
	{"Xiaomi Redmi Note 12", "Xiaomi", "13"},
	{"Xiaomi Redmi Note 11", "Xiaomi", "12"},
	{"Xiaomi Redmi 12", "Xiaomi", "13"},
	{"OPPO A96", "OPPO", "12"},
	{"OPPO A78", "OPPO", "13"},
	{"realme 9 Pro", "realme", "13"},
	{"realme 10", "realme", "13"},
	{"Huawei nova 9", "HUAWEI", "11"},
	{"Infinix Note 12", "Infinix", "12"},
	{"Infinix Hot 30", "Infinix", "13"},
	{"TECNO Spark 10", "TECNO", "13"},
}

var screens = []Screen{
	{1080, 2400, 420},
	{1080, 2340, 400},
	{720, 1600, 320},
	{1080, 2408, 440},
	{1080, 2460, 450},
}

const DefaultAppVersion = "1.0.0"

// Fingerprint presents the scraper as one consistent Android device. The device id
// survives Rotate so a source sees the same install with a refreshed profile.
type Fingerprint struct {
	mu         sync.RWMutex
	appName    string
	appVersion string
	deviceID   string
	profile    DeviceProfile
	screen     Screen
}

func New(appName, appVersion string) *Fingerprint {
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}
	return &Fingerprint{
		appName:    appName,
		appVersion: appVersion,
		deviceID:   NewDeviceID(),
		profile:    profiles[rand.IntN(len(profiles))],
		screen:     screens[rand.IntN(len(screens))],
	}
}

// NewDeviceID returns 16 hex chars derived from a random UUID.
func NewDeviceID() string {
	sum := md5.Sum([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])[:16]
}

func (f *Fingerprint) DeviceID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.deviceID
}

// SetDeviceID restores the id stored with the source credential.
func (f *Fingerprint) SetDeviceID(id string) {
	if id == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deviceID = id
}

func (f *Fingerprint) Profile() (DeviceProfile, Screen) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.profile, f.screen
}

// Rotate picks a new device profile and screen, keeping the device id.
func (f *Fingerprint) Rotate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = profiles[rand.IntN(len(profiles))]
	f.screen = screens[rand.IntN(len(screens))]
}

func (f *Fingerprint) UserAgent() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.userAgent()
}

func (f *Fingerprint) userAgent() string {
	return fmt.Sprintf("%s/%s (Linux; Android %s; %s) okhttp/4.11.0",
		f.appName, f.appVersion, f.profile.AndroidVersion, f.profile.Model)
}

// Headers returns the full header set. Calls between rotations return identical values.
func (f *Fingerprint) Headers() http.Header {
	f.mu.RLock()
	defer f.mu.RUnlock()

	h := make(http.Header, 14)
	h.Set("User-Agent", f.userAgent())
	h.Set("Accept", "application/json")
	h.Set("Accept-Language", "ar-EG,ar;q=0.9,en;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Connection", "keep-alive")
	h.Set("X-Device-Id", f.deviceID)
	h.Set("X-Device-Model", f.profile.Model)
	h.Set("X-Device-Brand", f.profile.Brand)
	h.Set("X-Android-Version", f.profile.AndroidVersion)
	h.Set("X-Screen-Density", strconv.Itoa(f.screen.DPI))
	h.Set("X-Screen-Resolution", fmt.Sprintf("%dx%d", f.screen.Width, f.screen.Height))
	h.Set("X-App-Version", f.appVersion)
	h.Set("X-Platform", "android")
	return h
}
