package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchService 收件箱监控：把落入 inbox 目录的导出文件自动送进导入流水线
type WatchService struct {
	watcher     *fsnotify.Watcher
	inboxDir    string
	userID      string
	extensions  map[string]bool
	importer    *ImportService
	onResult    func(path string, result *ImportResult)
	stopChan    chan struct{}
	running     bool
	mu          sync.Mutex
	stopOnce    sync.Once
	debounceMap map[string]time.Time // 防抖：file -> lastEvent
	importing   map[string]bool      // 正在导入的文件，期间的事件直接丢弃
	debounceDur time.Duration
}

// WatchConfig 收件箱监控配置
type WatchConfig struct {
	InboxDir    string
	UserID      string
	DebounceSec int
	// OnResult 每个文件导入完成后的回调（可为 nil）
	OnResult func(path string, result *ImportResult)
}

// 收件箱接受的文件扩展名
var watchedExtensions = []string{".json", ".csv", ".xml", ".fit"}

// NewWatchService 创建收件箱监控
func NewWatchService(cfg WatchConfig, importer *ImportService) (*WatchService, error) {
	if cfg.InboxDir == "" {
		return nil, fmt.Errorf("inbox 目录不能为空")
	}
	if cfg.DebounceSec <= 0 {
		cfg.DebounceSec = 2
	}
	if err := os.MkdirAll(cfg.InboxDir, 0755); err != nil {
		return nil, fmt.Errorf("创建 inbox 目录失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}
	if err := watcher.Add(cfg.InboxDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("添加监控目录失败: %w", err)
	}

	extMap := make(map[string]bool, len(watchedExtensions))
	for _, ext := range watchedExtensions {
		extMap[ext] = true
	}

	return &WatchService{
		watcher:     watcher,
		inboxDir:    cfg.InboxDir,
		userID:      cfg.UserID,
		extensions:  extMap,
		importer:    importer,
		onResult:    cfg.OnResult,
		stopChan:    make(chan struct{}),
		debounceMap: make(map[string]time.Time),
		importing:   make(map[string]bool),
		debounceDur: time.Duration(cfg.DebounceSec) * time.Second,
	}, nil
}

// Start 启动监控循环
func (s *WatchService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()
	slog.Info("收件箱监控启动", "inbox_dir", s.inboxDir)

	go s.watchLoop(ctx)
	return nil
}

// Stop 停止监控
func (s *WatchService) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.running = false
		s.mu.Unlock()

		close(s.stopChan)
		_ = s.watcher.Close()
		slog.Info("收件箱监控已停止")
	})
	return nil
}

// watchLoop 监控循环
func (s *WatchService) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleFsEvent(ctx, event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("文件监控错误", "error", err)
		}
	}
}

// handleFsEvent 处理文件系统事件
func (s *WatchService) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	// 创建与写入（含拷贝完成）都可能触发，防抖后只导入一次
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	filePath := event.Name
	if !s.extensions[strings.ToLower(filepath.Ext(filePath))] {
		return
	}

	// 防抖检查：不阻塞事件循环；导入期间的事件直接丢弃
	s.mu.Lock()
	last, exists := s.debounceMap[filePath]
	now := time.Now()
	if s.importing[filePath] || (exists && now.Sub(last) < s.debounceDur) {
		s.mu.Unlock()
		return
	}
	s.debounceMap[filePath] = now
	s.importing[filePath] = true
	s.mu.Unlock()

	// 等待写入方完成拷贝后在事件循环外导入
	go func() {
		select {
		case <-time.After(s.debounceDur):
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}

		s.importFile(ctx, filePath)

		// 导入结束后刷新时间戳，吞掉同一次拷贝的尾随事件
		s.mu.Lock()
		s.importing[filePath] = false
		s.debounceMap[filePath] = time.Now()
		s.mu.Unlock()
	}()
}

// importFile 读取并导入单个文件
func (s *WatchService) importFile(ctx context.Context, filePath string) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("读取收件箱文件失败", "file", filePath, "error", err)
		return
	}

	result := s.importer.ImportFile(ctx, ImportInput{
		UserID:   s.userID,
		FileName: filepath.Base(filePath),
		Content:  content,
	})
	slog.Info("收件箱文件已处理",
		"file", filePath,
		"success", result.Success,
		"vendor", result.Vendor,
	)

	if s.onResult != nil {
		s.onResult(filePath, result)
	}
}
