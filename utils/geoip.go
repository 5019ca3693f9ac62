package utils

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cppla/accesso/config"
)

var httpClient = &http.Client{Timeout: 3 * time.Second}

type ipAPIResp struct {
	IP       string `json:"ip"`
	Location string `json:"location"`
	Country  string `json:"country"`
}

// simple in-memory TTL cache
type cacheEntry struct {
	value     string
	expiresAt time.Time
}

var (
	ipCountryMu    sync.RWMutex
	ipCountryCache = make(map[string]cacheEntry)
	ipCountryTTL   = 24 * time.Hour
)

// NormalizeCountryName normalizes a country-like name by splitting on dashes and spaces,
// returning the first segment (e.g., "Germany-Berlin" -> "Germany").
func NormalizeCountryName(name string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return ""
	}
	// Map various dash runes to a common '-'
	dashMapped := strings.Map(func(r rune) rune {
		switch r {
		case '-', '–', '—', '‑', '‒', '﹣', '－':
			return '-'
		default:
			return r
		}
	}, s)
	if idx := strings.IndexRune(dashMapped, '-'); idx >= 0 {
		return strings.TrimSpace(dashMapped[:idx])
	}
	toks := strings.Fields(dashMapped)
	if len(toks) > 0 {
		return strings.TrimSpace(toks[0])
	}
	return strings.TrimSpace(dashMapped)
}

// IsPrivateIP returns true for RFC1918 and loopback ranges.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}

// GeoLookup resolves an IP address to a country name.
type GeoLookup func(ctx context.Context, ip string) (string, error)

// GetIPCountry returns the country for an IP (with in-memory and Redis caching).
// On error, returns empty country and error.
func GetIPCountry(ctx context.Context, ip string) (string, error) {
	if ip == "" || IsPrivateIP(ip) || net.ParseIP(ip) == nil {
		return "", nil
	}
	if v, ok := cacheGet(ip); ok {
		return v, nil
	}
	if v, ok := redisGet(ctx, ip); ok {
		cacheSet(ip, v)
		return v, nil
	}

	endpoint := config.Get().GeoIPEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+ip, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "accesso/1.0")
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("ip api non-200")
	}
	var body ipAPIResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	country := strings.TrimSpace(body.Country)
	if country == "" {
		country = NormalizeCountryName(body.Location)
	}
	if country != "" {
		cacheSet(ip, country)
		_ = redisSet(ctx, ip, country)
	}
	return country, nil
}

func cacheGet(ip string) (string, bool) {
	ipCountryMu.RLock()
	e, ok := ipCountryCache[ip]
	ipCountryMu.RUnlock()
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		ipCountryMu.Lock()
		delete(ipCountryCache, ip)
		ipCountryMu.Unlock()
		return "", false
	}
	return e.value, true
}

func cacheSet(ip, country string) {
	ipCountryMu.Lock()
	ipCountryCache[ip] = cacheEntry{value: country, expiresAt: time.Now().Add(ipCountryTTL)}
	ipCountryMu.Unlock()
}

func redisKey(ip string) string { return "ipcountry:" + ip }

func redisGet(ctx context.Context, ip string) (string, bool) {
	cli := GetRedis()
	if cli == nil {
		return "", false
	}
	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	val, err := cli.Get(ctx2, redisKey(ip)).Result()
	if err != nil || val == "" {
		return "", false
	}
	return val, true
}

func redisSet(ctx context.Context, ip, country string) error {
	cli := GetRedis()
	if cli == nil {
		return nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	return cli.Set(ctx2, redisKey(ip), country, ipCountryTTL).Err()
}
