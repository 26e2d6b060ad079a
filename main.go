package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"

	qt "github.com/mappu/miqt/qt6"
	"github.com/mappu/miqt/qt6/qml"
	"github.com/rubiojr/poiview/pkg/logger"
)

// Fixed local API port; the QML shell hardcodes it too.
const apiPort = "127.0.0.1:43117"

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	configFlag := flag.String("config", "", "custom config file (overrides XDG_CONFIG_HOME)")
	cacheDirFlag := flag.String("cache-dir", "", "custom cache directory (overrides XDG_CACHE_HOME)")
	flag.Parse()

	logger.SetDebug(*debugFlag)

	configPath := *configFlag
	if configPath == "" {
		configPath = filepath.Join(appConfigDir(), "config.toml")
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		logger.Fatal("config: %v", err)
	}

	cacheDir := *cacheDirFlag
	if cacheDir == "" {
		cacheDir = appCacheDir()
	}
	if err := ensureDir(cacheDir); err != nil {
		logger.Error("failed to create cache dir %s: %v", cacheDir, err)
	}

	// Core components. The scene bridge is the map-widget handle; the QML
	// shell polls it over the API below.
	bridge := newSceneMap()
	renderer := NewMarkerRenderer(cfg.ClusterThreshold, ClusterConfig{
		GridPx:  cfg.ClusterGridPx,
		MaxZoom: cfg.ClusterMaxZoom,
	})
	geocoder := NewNominatimGeocoder(cfg.NominatimServer, cacheDir)
	defer geocoder.Close()
	fetcher := NewOverpassFetcher(cfg.OverpassServer)

	rec := NewViewReconciler(geocoder, fetcher, bridge, renderer, cfg)
	defer rec.Teardown()
	bridge.OnViewportMoved(rec.OnViewportMoved)

	deb := NewSearchDebouncer(cfg.DebounceInterval, rec.SubmitSearch)
	defer deb.Close()

	monitor := NewConnectivityMonitor(rec.SetOffline)
	monitor.Start()
	defer monitor.Stop()

	proxy := newTileProxy(cacheDir)

	mux := http.NewServeMux()
	RegisterAPI(mux, rec, deb, bridge, geocoder, proxy, cfg)
	go func() {
		if err := http.ListenAndServe(apiPort, mux); err != nil {
			logger.Error("api server error on %s: %v", apiPort, err)
		}
	}()
	logger.Debug("api listening on http://%s", apiPort)

	qt.QCoreApplication_SetApplicationName("io.github.rubiojr.poiview")
	qt.NewQApplication(os.Args)
	engine := qml.NewQQmlApplicationEngine()
	engine.Load(qt.NewQUrl3("qrc:/components/MapView.qml"))
	if len(engine.RootObjects()) == 0 {
		logger.Fatal("QML load failed: no root objects (check QML errors / Qt Location).")
	}
	qt.QApplication_Exec()
}
