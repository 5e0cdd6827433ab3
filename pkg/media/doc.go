// Package media is the content library: audio tracks, images, videos and
// stock footage uploaded by users.
//
// Every library shares one ownership policy shape (view_<lib>, view_all_<lib>,
// manage_<lib>, update_any_<lib>, delete_any_<lib>) registered with the rbac
// Authorizer, and stores files through whatever storage driver is active at
// the time of the call:
//
//	svc := media.NewService(store, factory, authorizer, media.DefaultLibraries(), media.Options{})
//	item, err := svc.Upload(ctx, actor, "audio", media.UploadInput{Title: "Intro", Contents: data})
//
// Uploads are sniffed with mimetype and checked against the library's
// allow-list and size limit before anything is written.
package media
