package observability

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// RecentRoomInfo représente une room virtuelle récemment liée
type RecentRoomInfo struct {
	RoomID    string `json:"room_id"`
	NativeID  string `json:"native_id"`
	Origin    string `json:"origin"`
	Timestamp string `json:"timestamp"`
}

// MonitoringStats agrège toutes les métriques pour l'UI de debug
type MonitoringStats struct {
	// --- CAPABILITY METRICS ---
	ProtocolChecks     uint64 `json:"protocol_checks"`
	PSTNUpdates        uint64 `json:"pstn_updates"`
	VirtualRoomUpdates uint64 `json:"virtual_room_updates"`

	// --- MAPPER METRICS ---
	RoomsProvisioned uint64 `json:"rooms_provisioned"`
	InvitesJoined    uint64 `json:"invites_joined"`
	ErrorCount       uint64 `json:"error_count"`

	// --- SYSTEM METRICS ---
	AllocMemMb  uint64           `json:"alloc_mem_mb"`
	NumGC       uint32           `json:"num_gc"`
	Goroutines  int              `json:"goroutines"`
	CPUPercent  float64          `json:"cpu_percent"`
	RSSMb       uint64           `json:"rss_mb"`
	RecentRooms []RecentRoomInfo `json:"recent_rooms"`
}

// MonitoringManager gère la télémétrie en temps réel du bridge
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	// Compteurs atomiques alimentés par les services
	ProtocolChecks     uint64
	PSTNUpdates        uint64
	VirtualRoomUpdates uint64
	RoomsProvisioned   uint64
	InvitesJoined      uint64
	ErrorCount         uint64

	// Stats process (remplies par le HealthWorker via gopsutil)
	cpuPercent atomic.Value // float64
	rssMb      uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	mm := &MonitoringManager{
		log: log,
		latestStats: MonitoringStats{
			RecentRooms: make([]RecentRoomInfo, 0),
		},
	}
	mm.cpuPercent.Store(float64(0))
	return mm
}

func (mm *MonitoringManager) IncrProtocolChecks() {
	atomic.AddUint64(&mm.ProtocolChecks, 1)
}

func (mm *MonitoringManager) IncrPSTNUpdates() {
	atomic.AddUint64(&mm.PSTNUpdates, 1)
}

func (mm *MonitoringManager) IncrVirtualRoomUpdates() {
	atomic.AddUint64(&mm.VirtualRoomUpdates, 1)
}

func (mm *MonitoringManager) IncrRoomsProvisioned() {
	atomic.AddUint64(&mm.RoomsProvisioned, 1)
}

func (mm *MonitoringManager) IncrInvitesJoined() {
	atomic.AddUint64(&mm.InvitesJoined, 1)
}

func (mm *MonitoringManager) IncrErrorCount() {
	atomic.AddUint64(&mm.ErrorCount, 1)
}

// SetProcessStats enregistre les mesures CPU/RSS du process
func (mm *MonitoringManager) SetProcessStats(cpuPercent float64, rssMb uint64) {
	mm.cpuPercent.Store(cpuPercent)
	atomic.StoreUint64(&mm.rssMb, rssMb)
}

// AddRecentRoom ajoute une room récemment liée à la liste (thread-safe)
func (mm *MonitoringManager) AddRecentRoom(roomID, nativeID, origin string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	room := RecentRoomInfo{
		RoomID:    roomID,
		NativeID:  nativeID,
		Origin:    origin,
		Timestamp: time.Now().Format("15:04:05"),
	}

	// Ajouter au début de la liste
	mm.latestStats.RecentRooms = append([]RecentRoomInfo{room}, mm.latestStats.RecentRooms...)

	// Garder seulement les 20 dernières
	if len(mm.latestStats.RecentRooms) > 20 {
		mm.latestStats.RecentRooms = mm.latestStats.RecentRooms[:20]
	}
}

// Run rafraîchit le snapshot chaque seconde. Satisfies contract.Worker so
// the supervisor owns its lifecycle like any other worker.
func (mm *MonitoringManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mm.log.Info("🛑 Monitoring manager arrêté")
			return nil
		case <-ticker.C:
			mm.updateStats()
		}
	}
}

// updateStats recalcule le snapshot à partir des compteurs
func (mm *MonitoringManager) updateStats() {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	// Charger les compteurs cumulés
	mm.latestStats.ProtocolChecks = atomic.LoadUint64(&mm.ProtocolChecks)
	mm.latestStats.PSTNUpdates = atomic.LoadUint64(&mm.PSTNUpdates)
	mm.latestStats.VirtualRoomUpdates = atomic.LoadUint64(&mm.VirtualRoomUpdates)
	mm.latestStats.RoomsProvisioned = atomic.LoadUint64(&mm.RoomsProvisioned)
	mm.latestStats.InvitesJoined = atomic.LoadUint64(&mm.InvitesJoined)
	mm.latestStats.ErrorCount = atomic.LoadUint64(&mm.ErrorCount)

	// Stats process
	mm.latestStats.CPUPercent, _ = mm.cpuPercent.Load().(float64)
	mm.latestStats.RSSMb = atomic.LoadUint64(&mm.rssMb)

	// Métriques système Go
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC
	mm.latestStats.Goroutines = runtime.NumGoroutine()

	mm.log.Debug("📊 Stats mises à jour",
		"rooms_provisioned", mm.latestStats.RoomsProvisioned,
		"invites_joined", mm.latestStats.InvitesJoined,
		"mem_mb", mm.latestStats.AllocMemMb,
	)
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.latestStats
}

// CapabilityLogListener logs capability transitions and feeds the
// monitoring counters. Registered on the discovery service by binaries.
type CapabilityLogListener struct {
	log *slog.Logger
	mm  *MonitoringManager
}

func NewCapabilityLogListener(log *slog.Logger, mm *MonitoringManager) *CapabilityLogListener {
	return &CapabilityLogListener{log: log, mm: mm}
}

func (l *CapabilityLogListener) OnPSTNSupportUpdated() {
	l.mm.IncrPSTNUpdates()
	l.log.Info("☎️ PSTN bridging capability available")
}

func (l *CapabilityLogListener) OnVirtualRoomSupportUpdated() {
	l.mm.IncrVirtualRoomUpdates()
	l.log.Info("📞 Virtual room capability available")
}
