package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Orchestration level messages (info)
		"Starting pipeline":               "パイプラインを開始します",
		"Pipeline completed successfully": "パイプラインが正常に完了しました",
		"Output saved to %s":              "出力を %s に保存しました",
		"Interrupted, shutting down...":   "中断されました。シャットダウン中...",

		// Source stage
		"Rendering %d frames at %dx%d": "%d フレームを %dx%d で描画中",

		// Encode stage
		"Encoding %d frames as %s":                    "%d フレームを %s でエンコード中",
		"Encoded %d frames, %d key frames, %d bytes":  "%d フレームをエンコードしました (キーフレーム %d, %d バイト)",
		"Failed to stop encoder: %v":                  "エンコーダーの停止に失敗しました: %v",
		"Failed to flush encoder: %v":                 "エンコーダーのフラッシュに失敗しました: %v",

		// Mux stage
		"Failed to parse SPS: %v": "SPSの解析に失敗しました: %v",

		// Encoder component
		"Encoder error (%s): %s":                      "エンコーダーエラー (%s): %s",
		"Unexpected encoder transition %s -> %s":      "想定外のエンコーダー状態遷移 %s -> %s",
		"Device cannot prepend SPS/PPS to IDR frames": "デバイスはIDRフレームの前にSPS/PPSを付加できません",
		"Failed to enable frame level rate control: %v": "フレーム単位のレート制御を有効化できません: %v",
		"Failed to set bitrate to %d: %v":             "ビットレートを %d に設定できません: %v",
		"Failed to set framerate to %d: %v":           "フレームレートを %d に設定できません: %v",
		"Failed to force key frame: %v":               "キーフレームを強制できません: %v",
		"Failed to send stop command: %v":             "停止コマンドの送信に失敗しました: %v",
		"Failed to stop polling: %v":                  "ポーリングの停止に失敗しました: %v",
		"Failed to close device: %v":                  "デバイスのクローズに失敗しました: %v",
		"Failed to stop %s queue: %v":                 "%s キューの停止に失敗しました: %v",
		"Failed to release %s buffers: %v":            "%s バッファの解放に失敗しました: %v",
		"Failed to release %d partial buffers: %v":    "%d 個の部分バッファの解放に失敗しました: %v",
		"Failed to return converted frame %d: %v":     "変換済みフレーム %d の返却に失敗しました: %v",
		"Failed to read slot counts: %v":              "スロット数の取得に失敗しました: %v",

		// Status server
		"Status server listening on %s": "ステータスサーバーが %s で待機中",
		"Status server failed: %v":      "ステータスサーバーでエラーが発生しました: %v",

		// Debug output
		"Failed to save codec config: %v":   "コーデック設定の保存に失敗しました: %v",
		"Failed to save bitstream %d: %v":   "ビットストリーム %d の保存に失敗しました: %v",
		"Failed to save summary: %v":        "サマリーの保存に失敗しました: %v",

		// Errors
		"Failed to render frames: %s": "フレームの描画に失敗しました: %s",
		"Failed to encode video: %s":  "動画のエンコードに失敗しました: %s",
		"Failed to mux video: %s":     "動画の多重化に失敗しました: %s",
		"Failed to write output: %s":  "出力の書き込みに失敗しました: %s",
	})
}
