package export

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mdzio/go-hmcentral/cache"
	"github.com/mdzio/go-hmcentral/itf"

	"github.com/mdzio/go-logging"
)

var log = logging.Get("export")

const (
	deviceExportDir   = "export_device_descriptions"
	paramsetExportDir = "export_paramset_descriptions"
)

// anonymizer replaces real device addresses with synthetic VCU addresses. The
// mapping is stable for the lifetime of the process, so the device and
// paramset exports of one run reference the same addresses.
type anonymizer struct {
	mtx sync.Mutex
	ids map[string]string
	rng *rand.Rand
}

var anon = &anonymizer{
	ids: make(map[string]string),
	rng: rand.New(rand.NewSource(time.Now().UnixNano())),
}

// address maps a device or channel address to its anonymized form. The channel
// number is preserved.
func (a *anonymizer) address(address string) string {
	if address == "" {
		return ""
	}
	devAddr := address
	suffix := ""
	if p := strings.IndexRune(address, ':'); p != -1 {
		devAddr = address[:p]
		suffix = address[p:]
	}
	a.mtx.Lock()
	defer a.mtx.Unlock()
	id, ok := a.ids[devAddr]
	if !ok {
		id = fmt.Sprintf("VCU%07d", a.rng.Intn(10000000))
		a.ids[devAddr] = id
	}
	return id + suffix
}

// Exporter writes anonymized device and paramset descriptions as JSON files,
// e.g. to attach them to an issue report. Serial numbers are replaced by
// synthetic VCU addresses; everything else is kept verbatim.
type Exporter struct {
	StorageDir    string
	DeviceCache   *cache.DeviceDescriptionCache
	ParamsetCache *cache.ParamsetDescriptionCache
}

// DeviceExport exports the descriptions of one device and its channels. The
// file names carry the device type and firmware version.
func (e *Exporter) DeviceExport(interfaceID, deviceAddress string) error {
	dd := e.DeviceCache.Get(interfaceID, deviceAddress)
	if dd == nil || !dd.IsDevice() {
		return fmt.Errorf("Unknown device: %s", deviceAddress)
	}
	channels := e.DeviceCache.Channels(interfaceID, deviceAddress)

	descriptions := make([]*itf.DeviceDescription, 0, len(channels)+1)
	descriptions = append(descriptions, anonymizeDescription(dd))
	for _, ch := range channels {
		descriptions = append(descriptions, anonymizeDescription(ch))
	}
	name := fileName(dd)
	if err := writeJSON(filepath.Join(e.StorageDir, deviceExportDir, name), descriptions); err != nil {
		return err
	}

	paramsets := make(map[string]map[string]itf.ParamsetDescription, len(channels))
	for _, ch := range channels {
		psds := make(map[string]itf.ParamsetDescription)
		for _, psKey := range ch.Paramsets {
			if psd := e.ParamsetCache.Get(interfaceID, ch.Address, psKey); psd != nil {
				psds[psKey] = psd
			}
		}
		if len(psds) > 0 {
			paramsets[anon.address(ch.Address)] = psds
		}
	}
	if err := writeJSON(filepath.Join(e.StorageDir, paramsetExportDir, name), paramsets); err != nil {
		return err
	}
	log.Infof("Exported descriptions of device type %s to %s", dd.Type, name)
	return nil
}

func anonymizeDescription(dd *itf.DeviceDescription) *itf.DeviceDescription {
	a := *dd
	a.Address = anon.address(dd.Address)
	a.Parent = anon.address(dd.Parent)
	a.Children = make([]string, len(dd.Children))
	for i, ch := range dd.Children {
		a.Children[i] = anon.address(ch)
	}
	return &a
}

func fileName(dd *itf.DeviceDescription) string {
	fw := dd.Firmware
	if fw == "" {
		fw = "unknown"
	}
	name := dd.Type + "_" + fw + ".json"
	// device types may contain path separators, e.g. "HM-Sec-SC"
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}

func writeJSON(path string, content interface{}) error {
	buf, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("Marshalling of export failed: %v", err)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("Creating of export directory failed: %v", err)
	}
	if err = os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("Writing of export file %s failed: %v", path, err)
	}
	return nil
}
