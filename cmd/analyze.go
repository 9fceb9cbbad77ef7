package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"TuneSweep/config"
	"TuneSweep/core/catalog"
	"TuneSweep/core/dedup"
	"TuneSweep/core/progress"
	"TuneSweep/db"
	"TuneSweep/model"
	"TuneSweep/repository"
)

var (
	analyzeSearchTerm    string
	analyzeMinConfidence float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "运行一次重复曲目分析",
	Long:  `直接在命令行运行一次完整的重复曲目分析并打印结果摘要，不启动HTTP服务器。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		analyzer, cleanup, err := buildAnalyzer(cfg)
		if err != nil {
			log.Fatalf("初始化分析引擎失败: %v", err)
		}
		defer cleanup()

		runID, err := analyzer.Analyze(context.Background(), "cli", model.AnalysisParams{
			SearchTerm:    analyzeSearchTerm,
			MinConfidence: analyzeMinConfidence,
		})
		if err != nil {
			log.Fatalf("启动分析失败: %v", err)
		}
		fmt.Printf("分析已启动: %s\n", runID)

		for {
			time.Sleep(500 * time.Millisecond)
			p, err := analyzer.Progress(context.Background(), runID)
			if err != nil {
				log.Fatalf("读取进度失败: %v", err)
			}
			fmt.Printf("\r[%s] %.1f%% %s", p.Phase, p.Percentage, p.Message)
			if p.Phase.Terminal() {
				fmt.Println()
				break
			}
		}

		view, err := analyzer.Result(context.Background(), runID)
		if err != nil {
			log.Fatalf("读取分析结果失败: %v", err)
		}
		run := view.Run
		fmt.Printf("状态: %s, 重复组: %d, 重复曲目: %d, 平均相似度: %.3f, 耗时: %dms\n",
			run.Status, run.GroupsFound, run.DuplicatesFound, run.AvgSimilarity, run.ProcessingMillis)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "清理过期的分析结果",
	Long:  `按保留策略删除过期和超额的分析结果。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		analyzer, cleanup, err := buildAnalyzer(cfg)
		if err != nil {
			log.Fatalf("初始化分析引擎失败: %v", err)
		}
		defer cleanup()

		result, err := analyzer.Cleanup(context.Background(), "cli")
		if err != nil {
			log.Fatalf("清理失败: %v", err)
		}
		fmt.Printf("清理完成: 删除 %d 个分析, %d 个重复组\n", result.RunsDeleted, result.GroupsDeleted)
	},
}

// buildAnalyzer wires the engine for one-shot CLI use: both database
// connections and the catalog, no Redis mirror and no export archival.
func buildAnalyzer(cfg *config.Config) (*dedup.Analyzer, func(), error) {
	if err := db.ConnectDB(cfg); err != nil {
		return nil, nil, err
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		db.CloseDB()
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.CloseGormDB(); err != nil {
			log.Printf("关闭GORM连接时发生错误: %v", err)
		}
		if err := db.CloseDB(); err != nil {
			log.Printf("关闭数据库连接时发生错误: %v", err)
		}
	}

	if err := db.InitDB(); err != nil {
		cleanup()
		return nil, nil, err
	}
	if err := db.MigrateAnalysisModels(); err != nil {
		cleanup()
		return nil, nil, err
	}

	trackRepo := repository.NewMySQLTrackRepository(db.DB)
	auditRepo := repository.NewMySQLAuditRepository(db.DB)
	store := repository.NewGormAnalysisStore(db.GormDB)
	library := catalog.NewXMLLibrary(cfg.CatalogPath)

	finder := dedup.NewFinder(trackRepo, cfg.Analyzer.GroupingThreshold)
	crossref := dedup.NewCrossReferencer(library, cfg.Analyzer.CatalogMatchThreshold, cfg.Analyzer.CatalogLookupTimeout)
	resolver := dedup.NewResolver(db.GormDB, auditRepo)
	tracker := progress.NewTracker(cfg.Analyzer.ProgressTTL, nil)

	analyzer := dedup.NewAnalyzer(cfg.Analyzer, trackRepo, store, finder, crossref, resolver, tracker, auditRepo, nil, nil)
	return analyzer, cleanup, nil
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeSearchTerm, "search", "", "只分析匹配该关键词的曲目")
	analyzeCmd.Flags().Float64Var(&analyzeMinConfidence, "min-confidence", 0, "过滤低于该相似度的重复组")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(cleanupCmd)
}
