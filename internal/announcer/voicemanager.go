package announcer

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/curbz/yamka/pkg/util"
	"golang.org/x/text/language"
)

// Voice is a piper voice model.
type Voice struct {
	Name       string
	Path       string
	SampleRate int
}

// VoiceResolver picks the voice for a language tag.
type VoiceResolver interface {
	Resolve(lang string) (Voice, error)
}

// VoiceManager assigns piper voices to languages. Piper models are named
// like en_GB-alan-low.onnx; the prefix gives the locale.
type VoiceManager struct {
	mu          sync.Mutex
	voiceDir    string
	rng         *rand.Rand
	localePools map[string][]string
	langPools   map[string][]string
	globalPool  []string
	// chosen voice per locale, so one language keeps one voice
	sessions map[string]string
}

func NewVoiceManager(voiceDir string) (*VoiceManager, error) {
	vm := &VoiceManager{
		voiceDir:    voiceDir,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		localePools: make(map[string][]string),
		langPools:   make(map[string][]string),
		sessions:    make(map[string]string),
	}
	if err := vm.initialisePools(); err != nil {
		return nil, err
	}
	return vm, nil
}

func (vm *VoiceManager) initialisePools() error {
	files, err := os.ReadDir(vm.voiceDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()

		// Only process .onnx files
		if !strings.HasSuffix(fileName, ".onnx") {
			continue
		}
		cleanName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		vm.addVoice(cleanName)
	}

	if len(vm.globalPool) == 0 {
		return fmt.Errorf("no voice files found in folder %s", vm.voiceDir)
	}
	return nil
}

func (vm *VoiceManager) addVoice(name string) {
	vm.globalPool = append(vm.globalPool, name)
	sort.Strings(vm.globalPool)

	// ll_CC-speaker-quality
	if len(name) >= 5 && name[2] == '_' {
		locale := strings.ToLower(name[:2]) + "_" + strings.ToUpper(name[3:5])
		vm.localePools[locale] = append(vm.localePools[locale], name)
	}
	if len(name) >= 2 {
		lang := strings.ToLower(name[:2])
		vm.langPools[lang] = append(vm.langPools[lang], name)
	}
}

// Resolve returns the voice for lang, searching the exact locale first, then
// any voice of the same language, then the global pool.
func (vm *VoiceManager) Resolve(lang string) (Voice, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	base, locale := localeKeys(lang)

	if name, ok := vm.sessions[locale]; ok {
		return vm.getVoiceMetadata(name), nil
	}

	name := vm.performTieredSearch(base, locale)
	if name == "" {
		return Voice{}, fmt.Errorf("no voice available for %q", lang)
	}
	vm.sessions[locale] = name
	return vm.getVoiceMetadata(name), nil
}

func localeKeys(lang string) (string, string) {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	base, _ := tag.Base()
	region, _ := tag.Region()
	return base.String(), base.String() + "_" + region.String()
}

func (vm *VoiceManager) performTieredSearch(base, locale string) string {

	util.LogWithLabel(locale, "voice selection started")

	// 1. TIER 1: exact locale
	if voice := vm.pick(vm.localePools[locale]); voice != "" {
		util.LogWithLabel(locale, "voice selection on locale successful: %s", voice)
		return voice
	}

	// 2. TIER 2: same language, any region
	util.LogWithLabel(locale, "voice selection falling back to language: %s", base)
	if voice := vm.pick(vm.langPools[base]); voice != "" {
		util.LogWithLabel(locale, "voice selection on language successful: %s", voice)
		return voice
	}

	// 3. TIER 3: anything we have
	util.WarnWithLabel(locale, "voice selection falling back to global voice pool")
	return vm.pick(vm.globalPool)
}

func (vm *VoiceManager) pick(pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[vm.rng.Intn(len(pool))]
}

func (vm *VoiceManager) getVoiceMetadata(name string) Voice {
	path := filepath.Join(vm.voiceDir, name+".onnx")
	rate := 22050 // Default

	// Try to get sample rate from Piper JSON
	if f, err := os.Open(path + ".json"); err == nil {
		var cfg struct {
			Audio struct {
				SampleRate int `json:"sample_rate"`
			} `json:"audio"`
		}
		if err := json.NewDecoder(f).Decode(&cfg); err == nil && cfg.Audio.SampleRate > 0 {
			rate = cfg.Audio.SampleRate
		}
		f.Close()
	}

	return Voice{Name: name, Path: path, SampleRate: rate}
}
