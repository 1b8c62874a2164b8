// Package main provides localization for the hwencode CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Drive a memory-to-memory hardware video encoder.": "メモリ間ハードウェア動画エンコーダーを駆動します。",

		// Version command
		"hwencode version %s": "hwencode バージョン %s",

		// Runtime messages
		"encoding interrupted":                "エンコードが中断されました",
		"Failed to release encoder: %v":       "エンコーダーの解放に失敗しました: %v",
		"Failed to stop status server: %v":    "ステータスサーバーの停止に失敗しました: %v",
		"Summary saved to %s":                 "サマリーを %s に保存しました",
		"Failed to write summary: %s":         "サマリーの書き込みに失敗しました: %s",

		// Summary content
		"Encode Summary":     "エンコードサマリー",
		"Generated":          "生成日時",
		"Results":            "実行結果",
		"Settings":           "設定",
		"Encoder Counters":   "エンコーダーカウンター",
		"Item":               "項目",
		"Value":              "値",
		"Output":             "出力先",
		"Container":          "コンテナ",
		"Codec":              "コーデック",
		"Frame Count":        "フレーム数",
		"Key Frames":         "キーフレーム数",
		"Encoded Size":       "エンコード済みサイズ",
		"Average Frame Size": "平均フレームサイズ",
		"File Size":          "ファイルサイズ",
		"Video Duration":     "動画再生時間",
		"Achieved Bitrate":   "実効ビットレート",
		"Elapsed":            "処理時間",
		"Profile":            "プロファイル",
		"Frame Size":         "フレームサイズ",
		"Input Format":       "入力フォーマット",
		"Target Bitrate":     "目標ビットレート",
		"Framerate":          "フレームレート",
		"Key Frame Period":   "キーフレーム間隔",
		"First frame only":   "先頭フレームのみ",
		"Items Queued":       "投入アイテム数",
		"Items Completed":    "完了アイテム数",
		"Items Aborted":      "中止アイテム数",
		"Drains":             "ドレイン回数",
		"Flushes":            "フラッシュ回数",
		"Errors":             "エラー数",
		"Generated by":       "生成:",
	})
}
